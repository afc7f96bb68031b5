// Package chat runs one conversational turn: validation, session
// resolution, optional search, streamed generation and persistence.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dietchat/internal/metrics"
	"dietchat/internal/models"
	"dietchat/internal/relay"
	"dietchat/internal/service/classify"
	"dietchat/internal/service/conversation"
	"dietchat/internal/service/llm"
)

// Store is the persistence the pipeline needs.
type Store interface {
	ResumeOrCreate(ctx context.Context, userID int64, sessionID, firstUserTurn string) (*models.Session, conversation.Resolution, error)
	AppendTurn(ctx context.Context, sessionID string, role models.Role, text string) (*models.Turn, error)
}

// Searcher returns an optional context block for the latest user turn.
type Searcher interface {
	Context(ctx context.Context, latestUserTurn string) string
}

// Generator opens a streamed completion.
type Generator interface {
	Stream(ctx context.Context, req llm.Request) (*llm.FragmentStream, error)
}

const defaultPersistTimeout = 5 * time.Second

type Options struct {
	PersistTimeout time.Duration
	Logger         *slog.Logger
}

type Pipeline struct {
	store          Store
	search         Searcher
	model          Generator
	relay          *relay.Relay
	persistTimeout time.Duration
	logger         *slog.Logger
}

// NewPipeline wires the stages. search may be nil to disable augmentation.
func NewPipeline(store Store, search Searcher, model Generator, r *relay.Relay, opts Options) *Pipeline {
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = defaultPersistTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{
		store:          store,
		search:         search,
		model:          model,
		relay:          r,
		persistTimeout: opts.PersistTimeout,
		logger:         opts.Logger,
	}
}

// Prepared is a validated request bound to its session, with the inbound
// user turn already persisted.
type Prepared struct {
	UserID     int64
	Session    *models.Session
	Resolution conversation.Resolution
	Request    Normalized
	UserTurn   *models.Turn
}

// Prepare validates req, resolves the session and persists the inbound user
// turn. Nothing is streamed yet, so callers can still answer with a plain
// error status. Errors are *ValidationError, *conversation.AuthorizationError
// or storage failures.
func (p *Pipeline) Prepare(ctx context.Context, userID int64, req Request) (*Prepared, error) {
	norm, err := Validate(req)
	if err != nil {
		return nil, err
	}
	session, resolution, err := p.store.ResumeOrCreate(ctx, userID, norm.ChatID, norm.FirstUserTurn())
	if err != nil {
		return nil, err
	}
	prepared := &Prepared{
		UserID:     userID,
		Session:    session,
		Resolution: resolution,
		Request:    norm,
	}

	// Clients resend the whole conversation; only a trailing user message
	// is new.
	last := norm.Messages[len(norm.Messages)-1]
	if last.Role == models.RoleUser {
		turn, err := p.store.AppendTurn(ctx, session.ID, models.RoleUser, last.Content)
		if err != nil {
			return nil, fmt.Errorf("persist user turn: %w", err)
		}
		prepared.UserTurn = turn
	}
	return prepared, nil
}

// Result reports how a streamed turn ended.
type Result struct {
	Outcome   relay.Outcome
	Kind      classify.Kind
	Searched  bool
	Assistant *models.Turn
}

// Stream runs search and generation and relays the reply to t. The
// assistant turn is persisted with exactly the relayed text unless the
// client went away or nothing was generated.
func (p *Pipeline) Stream(ctx context.Context, prepared *Prepared, t relay.Transport) Result {
	logger := p.logger.With("user_id", prepared.UserID, "chat_id", prepared.Session.ID)

	var searchContext string
	if prepared.Request.EnableSearch && p.search != nil {
		if latest, ok := prepared.Request.LatestUserTurn(); ok {
			searchContext = p.search.Context(ctx, latest)
		}
	}

	req := llm.Request{Messages: prepared.Request.Messages, SearchContext: searchContext}
	outcome := p.relay.Run(ctx, t, func(ctx context.Context) (relay.Source, error) {
		stream, err := p.model.Stream(ctx, req)
		if err != nil {
			return nil, err
		}
		return stream, nil
	})

	result := Result{
		Outcome:  outcome,
		Kind:     classify.Classify(outcome.Text),
		Searched: searchContext != "",
	}
	metrics.Classifications.WithLabelValues(string(result.Kind)).Inc()

	switch {
	case outcome.Status == relay.StatusClientGone:
		logger.InfoContext(ctx, "client left before the reply finished",
			"fragments", outcome.Fragments,
		)
		return result
	case strings.TrimSpace(outcome.Text) == "":
		logger.WarnContext(ctx, "no reply text to persist", "status", outcome.Status)
		return result
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.persistTimeout)
	defer cancel()
	turn, err := p.store.AppendTurn(persistCtx, prepared.Session.ID, models.RoleAssistant, outcome.Text)
	if err != nil {
		logger.ErrorContext(ctx, "persist assistant turn", "error", err)
		return result
	}
	result.Assistant = turn
	logger.InfoContext(ctx, "chat turn finished",
		"status", outcome.Status,
		"fragments", outcome.Fragments,
		"kind", result.Kind,
		"searched", result.Searched,
	)
	return result
}
