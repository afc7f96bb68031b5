package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"dietchat/internal/models"
	"dietchat/internal/service/classify"
)

const chatIDHeader = "X-Chat-Id"

// APIError is a non-success response from the server.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server returned %d (%s): %s", e.Status, e.Code, e.Message)
}

// Reply is one finished assistant turn as seen by the client.
type Reply struct {
	StreamResult
	ChatID string
	Kind   classify.Kind
	// Form is set for question batches when the server could extract one.
	Form *models.FormSpec
}

// Client keeps one conversation with the chat API. The whole history is
// resent on every turn and the server-assigned chat id is reused.
type Client struct {
	baseURL string
	http    *http.Client

	mu       sync.Mutex
	token    string
	chatID   string
	history  []models.Message
	noSearch bool
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// DisableSearch turns web augmentation off for later turns.
func (c *Client) DisableSearch() {
	c.mu.Lock()
	c.noSearch = true
	c.mu.Unlock()
}

// ChatID is the session the next turn will be appended to.
func (c *Client) ChatID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatID
}

// History returns a copy of the conversation so far.
func (c *Client) History() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message(nil), c.history...)
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, username, password string) error {
	resp, err := c.postJSON(ctx, "/api/users/register", map[string]string{"username": username, "password": password})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return decodeAPIError(resp)
	}
	return nil
}

// Login obtains a bearer token used by every later call.
func (c *Client) Login(ctx context.Context, username, password string) error {
	resp, err := c.postJSON(ctx, "/api/users/login", map[string]string{"username": username, "password": password})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	var body struct {
		AuthToken string `json:"auth_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if body.AuthToken == "" {
		return errors.New("login response without token")
	}
	c.mu.Lock()
	c.token = body.AuthToken
	c.mu.Unlock()
	return nil
}

// Send adds text as a user turn, streams the reply through onUpdate and,
// for question batches, fetches the form to render next. The turn is only
// kept in the history when a reply arrived.
func (c *Client) Send(ctx context.Context, text string, onUpdate func(string)) (*Reply, error) {
	c.mu.Lock()
	messages := append(append([]models.Message(nil), c.history...), models.Message{Role: models.RoleUser, Content: text})
	payload := map[string]any{"messages": messages, "enableSearch": !c.noSearch}
	if c.chatID != "" {
		payload["chatId"] = c.chatID
	}
	c.mu.Unlock()

	resp, err := c.postJSON(ctx, "/api/chat", payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	chatID := resp.Header.Get(chatIDHeader)
	result, err := Consume(ctx, resp.Body, onUpdate)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if chatID != "" {
		c.chatID = chatID
	}
	c.history = append(messages, models.Message{Role: models.RoleAssistant, Content: result.Text})
	c.mu.Unlock()

	reply := &Reply{StreamResult: result, ChatID: chatID, Kind: classify.Classify(result.Text)}
	if reply.Kind == classify.KindQuestionBatch {
		spec, err := c.Analyze(ctx, result.Text)
		if err != nil {
			return reply, fmt.Errorf("analyze reply: %w", err)
		}
		if len(spec.FormFields) > 0 {
			reply.Form = &spec
		}
	}
	return reply, nil
}

// Analyze asks the server to turn a reply into form fields.
func (c *Client) Analyze(ctx context.Context, reply string) (models.FormSpec, error) {
	resp, err := c.postJSON(ctx, "/api/analyze", map[string]string{"aiResponse": reply})
	if err != nil {
		return models.FormSpec{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.FormSpec{}, decodeAPIError(resp)
	}
	var spec models.FormSpec
	if err := json.NewDecoder(resp.Body).Decode(&spec); err != nil {
		return models.FormSpec{}, fmt.Errorf("decode form: %w", err)
	}
	return spec, nil
}

// AnswerForm renders filled-in form values as the next user turn, one
// "label: value" line per answered field in form order.
func AnswerForm(spec models.FormSpec, answers map[string]string) string {
	lines := make([]string, 0, len(spec.FormFields))
	for _, field := range spec.FormFields {
		value := strings.TrimSpace(answers[field.Key])
		if value == "" {
			continue
		}
		lines = append(lines, field.Label+": "+value)
	}
	return strings.Join(lines, "\n")
}

func (c *Client) postJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.mu.Lock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.Unlock()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return resp, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
