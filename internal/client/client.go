// Package client provides a GraphQL client for the jobingest server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/jobingest/internal/models"
)

// ErrWaitTimeout is returned when a record does not reach a terminal status
// within the wait window. The pipeline may still finish later.
var ErrWaitTimeout = errors.New("timed out waiting for job")

// ErrJobNotFound is returned for ids the server has no record of.
var ErrJobNotFound = errors.New("job not found")

// DefaultPollInterval is used when the websocket subscription is unavailable.
const DefaultPollInterval = time.Second

// APIError is a non-2xx HTTP response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error: %d - %s", e.StatusCode, e.Message)
}

// GraphQLError is the first error of a GraphQL response.
type GraphQLError struct {
	Message string
	Code    string
}

func (e *GraphQLError) Error() string {
	return "graphql error: " + e.Message
}

// Client talks to the jobingest GraphQL API.
type Client struct {
	endpoint     string
	httpClient   *http.Client
	pollInterval time.Duration
}

// New creates a client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		endpoint:     strings.TrimSuffix(baseURL, "/") + "/query",
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		pollInterval: DefaultPollInterval,
	}
}

// graphQLRequest is the request payload for GraphQL operations.
type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphQLResponse is the response payload from GraphQL operations.
type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors,omitempty"`
}

// graphQLError represents a GraphQL error.
type graphQLError struct {
	Message    string `json:"message"`
	Path       []any  `json:"path,omitempty"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

func firstError(errs []graphQLError) error {
	e := errs[0]
	if e.Extensions.Code == "NOT_FOUND" {
		return fmt.Errorf("%w: %s", ErrJobNotFound, e.Message)
	}
	return &GraphQLError{Message: e.Message, Code: e.Extensions.Code}
}

// Execute sends a GraphQL query/mutation and decodes data into result.
func (c *Client) Execute(ctx context.Context, query string, variables map[string]any, result any) error {
	reqBody, err := json.Marshal(graphQLRequest{
		Query:     query,
		Variables: variables,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var gqlResp graphQLResponse
	decodeErr := json.Unmarshal(body, &gqlResp)

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if decodeErr == nil && len(gqlResp.Errors) > 0 {
			msg = gqlResp.Errors[0].Message
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return fmt.Errorf("unmarshal response: %w", decodeErr)
	}

	if len(gqlResp.Errors) > 0 {
		return firstError(gqlResp.Errors)
	}

	if result != nil && len(gqlResp.Data) > 0 {
		if err := json.Unmarshal(gqlResp.Data, result); err != nil {
			return fmt.Errorf("unmarshal data: %w", err)
		}
	}

	return nil
}

// jobFields selects every field of a Job.
const jobFields = `
	id
	sourceUrl
	status
	content
	pageMeta { title ogTitle ogImage siteName canonicalUrl }
	extractedData {
		companyName
		position
		description
		companyLogoUrl
		employmentType
		remotePolicy
		technologies
	}
	errorMessage
	createdAt
	updatedAt
`

// CreateJob requests ingestion of sourceURL and returns the record id.
func (c *Client) CreateJob(ctx context.Context, sourceURL string) (string, error) {
	const query = `
		mutation RequestJob($url: String) {
			requestJob(url: $url)
		}
	`
	var result struct {
		RequestJob string `json:"requestJob"`
	}
	if err := c.Execute(ctx, query, map[string]any{"url": sourceURL}, &result); err != nil {
		return "", err
	}
	return result.RequestJob, nil
}

// GetJob fetches a record. Unknown ids return ErrJobNotFound.
func (c *Client) GetJob(ctx context.Context, id string) (*models.IngestionRecord, error) {
	query := `
		query Job($id: ID!) {
			job(id: $id) {` + jobFields + `}
		}
	`
	var result struct {
		Job *models.IngestionRecord `json:"job"`
	}
	if err := c.Execute(ctx, query, map[string]any{"id": id}, &result); err != nil {
		return nil, err
	}
	if result.Job == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return result.Job, nil
}

// graphql-transport-ws protocol message types
const (
	gqlConnectionInit = "connection_init"
	gqlConnectionAck  = "connection_ack"
	gqlPing           = "ping"
	gqlPong           = "pong"
	gqlSubscribe      = "subscribe"
	gqlNext           = "next"
	gqlError          = "error"
	gqlComplete       = "complete"
)

// wsMessage represents a graphql-transport-ws protocol message.
type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsSubscribePayload is the payload for subscribe messages.
type wsSubscribePayload struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Watch subscribes to a record and calls onUpdate with every state the
// server pushes until the server completes the subscription or ctx ends.
func (c *Client) Watch(ctx context.Context, id string, onUpdate func(models.IngestionRecord) error) error {
	// Convert HTTP endpoint to WebSocket endpoint
	wsEndpoint := c.endpoint
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Subprotocols:     []string{"graphql-transport-ws"},
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}

	// Track connection state for proper cleanup
	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	if err := conn.WriteJSON(wsMessage{Type: gqlConnectionInit}); err != nil {
		return fmt.Errorf("send connection_init: %w", err)
	}

	var ackMsg wsMessage
	if err := conn.ReadJSON(&ackMsg); err != nil {
		return fmt.Errorf("read connection_ack: %w", err)
	}
	if ackMsg.Type != gqlConnectionAck {
		return fmt.Errorf("expected connection_ack, got %s", ackMsg.Type)
	}

	payload, err := json.Marshal(wsSubscribePayload{
		Query: `
			subscription JobUpdated($id: ID!) {
				jobUpdated(id: $id) {` + jobFields + `}
			}
		`,
		Variables: map[string]any{"id": id},
	})
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}
	subscriptionID := uuid.New().String()
	if err := conn.WriteJSON(wsMessage{ID: subscriptionID, Type: gqlSubscribe, Payload: payload}); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	// Handle context cancellation in a separate goroutine
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read message: %w", err)
		}

		switch msg.Type {
		case gqlNext:
			var data struct {
				Data struct {
					JobUpdated *models.IngestionRecord `json:"jobUpdated"`
				} `json:"data"`
				Errors []graphQLError `json:"errors"`
			}
			if err := json.Unmarshal(msg.Payload, &data); err != nil {
				return fmt.Errorf("unmarshal next payload: %w", err)
			}
			if len(data.Errors) > 0 {
				return firstError(data.Errors)
			}
			if data.Data.JobUpdated == nil {
				continue
			}
			if err := onUpdate(*data.Data.JobUpdated); err != nil {
				return err
			}

		case gqlError:
			var errs []graphQLError
			if err := json.Unmarshal(msg.Payload, &errs); err != nil || len(errs) == 0 {
				return fmt.Errorf("subscription error: %s", string(msg.Payload))
			}
			return firstError(errs)

		case gqlComplete:
			return nil

		case gqlPing:
			mu.Lock()
			err := conn.WriteJSON(wsMessage{Type: gqlPong})
			mu.Unlock()
			if err != nil {
				return fmt.Errorf("send pong: %w", err)
			}

		default:
			// Ignore keep-alives and unknown message types
			continue
		}
	}
}

// Poll fetches the record every poll interval and calls onUpdate whenever
// its status changes, until the status is terminal or ctx ends.
func (c *Client) Poll(ctx context.Context, id string, onUpdate func(models.IngestionRecord) error) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var last models.Status
	for {
		rec, err := c.GetJob(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if rec.Status != last {
			last = rec.Status
			if err := onUpdate(*rec); err != nil {
				return err
			}
		}
		if rec.Status.IsTerminal() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Wait follows a record until it reaches a terminal status and returns that
// state. It prefers the websocket subscription and falls back to polling.
// When no terminal status arrives within timeout it returns ErrWaitTimeout.
func (c *Client) Wait(ctx context.Context, id string, timeout time.Duration, onUpdate func(models.IngestionRecord)) (*models.IngestionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var final *models.IngestionRecord
	track := func(rec models.IngestionRecord) error {
		if onUpdate != nil {
			onUpdate(rec)
		}
		if rec.Status.IsTerminal() {
			final = &rec
		}
		return nil
	}

	err := c.Watch(ctx, id, track)
	if err != nil && !isServerAnswer(err) && ctx.Err() == nil && final == nil {
		err = c.Poll(ctx, id, track)
	}

	if final != nil {
		return final, nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s", ErrWaitTimeout, timeout)
	}
	if err != nil {
		return nil, err
	}
	return nil, errors.New("subscription ended before the job finished")
}

// isServerAnswer reports errors the server returned on purpose. Polling
// would only repeat them.
func isServerAnswer(err error) bool {
	var apiErr *APIError
	var gqlErr *GraphQLError
	return errors.Is(err, ErrJobNotFound) || errors.As(err, &apiErr) || errors.As(err, &gqlErr)
}
