package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"dietchat/internal/models"

	"github.com/google/uuid"
)

// OwnershipPolicy decides what happens when a client names a session it
// does not own (or one that no longer exists).
type OwnershipPolicy string

const (
	// PolicyFork silently starts a fresh session for the caller.
	PolicyFork OwnershipPolicy = "fork"
	// PolicyReject fails the request with an *AuthorizationError.
	PolicyReject OwnershipPolicy = "reject"
)

// Resolution reports how ResumeOrCreate resolved the requested session.
type Resolution string

const (
	ResolutionCreated Resolution = "created"
	ResolutionResumed Resolution = "resumed"
	ResolutionForked  Resolution = "forked"
)

const (
	DefaultTitle     = "New Conversation"
	titleLimit       = 50
	DefaultListLimit = 20
)

// ErrEmptyTurn is returned when a turn without content is appended.
var ErrEmptyTurn = errors.New("turn content cannot be empty")

// AuthorizationError is returned under PolicyReject when the caller does not
// own the requested session.
type AuthorizationError struct {
	SessionID string
	UserID    int64
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("session %s is not accessible to user %d", e.SessionID, e.UserID)
}

// Store persists sessions and their append-only turns.
type Store struct {
	db     *sql.DB
	policy OwnershipPolicy
	logger *slog.Logger
	now    func() time.Time
}

func NewStore(db *sql.DB, policy OwnershipPolicy, logger *slog.Logger) *Store {
	if policy == "" {
		policy = PolicyFork
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		policy: policy,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// DeriveTitle builds a session title from the first user turn.
func DeriveTitle(firstUserTurn string) string {
	text := strings.TrimSpace(firstUserTurn)
	if text == "" {
		return DefaultTitle
	}
	if utf8.RuneCountInString(text) <= titleLimit {
		return text
	}
	runes := []rune(text)
	return string(runes[:titleLimit]) + "..."
}

// ResumeOrCreate returns the session the turn pair will be written to.
// An empty sessionID always creates a session titled after firstUserTurn.
func (s *Store) ResumeOrCreate(ctx context.Context, userID int64, sessionID, firstUserTurn string) (*models.Session, Resolution, error) {
	if userID <= 0 {
		return nil, "", errors.New("user_id is required")
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		session, err := s.create(ctx, userID, DeriveTitle(firstUserTurn))
		if err != nil {
			return nil, "", err
		}
		return session, ResolutionCreated, nil
	}

	session, err := s.lookup(ctx, sessionID)
	switch {
	case err == nil && session.UserID == userID:
		return session, ResolutionResumed, nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return nil, "", err
	}

	if s.policy == PolicyReject {
		return nil, "", &AuthorizationError{SessionID: sessionID, UserID: userID}
	}
	forked, err := s.create(ctx, userID, DeriveTitle(firstUserTurn))
	if err != nil {
		return nil, "", err
	}
	s.logger.WarnContext(ctx, "requested session not owned by caller, forked",
		"user_id", userID,
		"requested_chat_id", sessionID,
		"chat_id", forked.ID,
	)
	return forked, ResolutionForked, nil
}

func (s *Store) create(ctx context.Context, userID int64, title string) (*models.Session, error) {
	now := s.now()
	session := &models.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.Title, session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

func (s *Store) lookup(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM sessions WHERE id = ?`,
		sessionID,
	).Scan(&session.ID, &session.UserID, &session.Title, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

// AppendTurn inserts one turn and bumps the session's updated_at. Existing
// turns are never modified. The content is stored exactly as given.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, role models.Role, text string) (*models.Turn, error) {
	if sessionID == "" {
		return nil, errors.New("session_id is required")
	}
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyTurn
	}

	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO turns (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, string(role), text, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert turn: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("turn id: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now, sessionID); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit turn: %w", err)
	}
	return &models.Turn{ID: id, SessionID: sessionID, Role: role, Content: text, CreatedAt: now}, nil
}

// ListSessions returns the user's most recently active sessions.
func (s *Store) ListSessions(ctx context.Context, userID int64, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM sessions WHERE user_id = ? ORDER BY updated_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]models.Session, 0, limit)
	for rows.Next() {
		var session models.Session
		if err := rows.Scan(&session.ID, &session.UserID, &session.Title, &session.CreatedAt, &session.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// GetSessionWithTurns returns one owned session and its turns in
// conversational order. Sessions owned by someone else yield sql.ErrNoRows.
func (s *Store) GetSessionWithTurns(ctx context.Context, userID int64, sessionID string) (*models.Session, []models.Turn, error) {
	session, err := s.lookup(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if session.UserID != userID {
		return nil, nil, sql.ErrNoRows
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at FROM turns WHERE session_id = ? ORDER BY created_at ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	turns := make([]models.Turn, 0)
	for rows.Next() {
		var turn models.Turn
		var role string
		if err := rows.Scan(&turn.ID, &turn.SessionID, &role, &turn.Content, &turn.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("scan turn: %w", err)
		}
		turn.Role = models.Role(role)
		turns = append(turns, turn)
	}
	return session, turns, rows.Err()
}

// DeleteSession removes an owned session; its turns go with it.
func (s *Store) DeleteSession(ctx context.Context, userID int64, sessionID string) error {
	if sessionID == "" {
		return errors.New("invalid session id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM turns WHERE session_id IN (SELECT id FROM sessions WHERE id = ? AND user_id = ?)`,
		sessionID, userID,
	); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ? AND user_id = ?`, sessionID, userID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete session: %w", err)
	}
	return nil
}
