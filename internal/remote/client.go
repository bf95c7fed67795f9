// Package remote is the HTTP client for the marketplace API. It is the only
// place network traffic happens; everything above it sees typed results and
// errors carrying an HTTP status code for retry classification.
package remote

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

	"masterok/internal/config"
	"masterok/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// idempotencyNamespace seeds deterministic idempotency keys: the same
// localID always yields the same key, so a retried create cannot
// double-insert server-side.
var idempotencyNamespace = uuid.MustParse("7f1d2c3b-4a5e-46f7-8899-aabbccddeeff")

// Error is a remote rejection with its HTTP status attached.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("remote: %s (status %d)", e.Message, e.Status)
}

// StatusCode exposes the HTTP status for the retry classifier.
func (e *Error) StatusCode() int { return e.Status }

// ErrAlreadyExists marks a create the server has already applied (duplicate
// idempotency key); the caller should treat the mutation as already synced.
var ErrAlreadyExists = errors.New("entity already exists on server")

type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zerolog.Logger

	mu    sync.RWMutex
	token string
}

func NewClient(cfg config.RemoteConfig, logger *zerolog.Logger) *Client {
	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout()},
		limiter: limiter,
		logger:  logger,
	}
}

// SetToken swaps the bearer credential after (re-)authentication. Safe to
// call while a drain is in flight; requests pick up the new token on their
// next attempt.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) bearerToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, idempotencyKey string) (*envelope, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.bearerToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport failures carry no status code; the classifier treats
		// them as transient.
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var env envelope
	if len(raw) > 0 {
		// Tolerate non-JSON bodies on errors; the status code is what matters.
		_ = json.Unmarshal(raw, &env)
	}

	if resp.StatusCode >= 400 {
		message := env.Error
		if message == "" {
			message = env.Message
		}
		if message == "" {
			message = strings.TrimSpace(string(raw))
		}
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		c.logger.Warn().Int("status", resp.StatusCode).Str("path", path).Str("error", message).Msg("Remote request rejected")
		return &env, &Error{Status: resp.StatusCode, Message: message}
	}

	return &env, nil
}

// IdempotencyKey derives a stable key from a mutation's local ID.
func IdempotencyKey(localID string) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(localID)).String()
}

// CreateBooking POSTs a new booking. On a duplicate idempotency key the
// server answers 409 with the existing record; that surfaces as the booking
// plus ErrAlreadyExists.
func (c *Client) CreateBooking(ctx context.Context, payload *models.CreateBookingPayload) (*models.Booking, error) {
	env, err := c.doRequest(ctx, http.MethodPost, "/bookings", payload, IdempotencyKey(payload.LocalID))
	if err != nil {
		var remoteErr *Error
		if errors.As(err, &remoteErr) && remoteErr.Status == http.StatusConflict && env != nil && len(env.Data) > 0 {
			var booking models.Booking
			if decodeErr := json.Unmarshal(env.Data, &booking); decodeErr == nil && booking.ID != "" {
				return &booking, ErrAlreadyExists
			}
		}
		return nil, err
	}

	var booking models.Booking
	if err := json.Unmarshal(env.Data, &booking); err != nil {
		return nil, fmt.Errorf("decode booking response: %w", err)
	}
	if booking.ID == "" {
		return nil, fmt.Errorf("server response missing booking id")
	}
	return &booking, nil
}

// UpdateBooking PUTs a partial update to an existing booking.
func (c *Client) UpdateBooking(ctx context.Context, bookingID string, fields map[string]interface{}) error {
	_, err := c.doRequest(ctx, http.MethodPut, "/bookings/"+bookingID, fields, "")
	return err
}

// TransitionStatus POSTs a status verb (accept, start, complete, cancel).
func (c *Client) TransitionStatus(ctx context.Context, bookingID, verb string, localID string) error {
	_, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/bookings/%s/%s", bookingID, verb), nil, IdempotencyKey(localID))
	return err
}

// CreateReview POSTs a review for a booking.
func (c *Client) CreateReview(ctx context.Context, payload *models.CreateReviewPayload) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/bookings/"+payload.BookingID+"/review", payload, IdempotencyKey(payload.LocalID))
	return err
}

// ListProviders fetches the provider catalog for the local reference cache.
func (c *Client) ListProviders(ctx context.Context) ([]models.Provider, error) {
	env, err := c.doRequest(ctx, http.MethodGet, "/providers", nil, "")
	if err != nil {
		return nil, err
	}
	var providers []models.Provider
	if err := json.Unmarshal(env.Data, &providers); err != nil {
		return nil, fmt.Errorf("decode providers: %w", err)
	}
	return providers, nil
}

// ListServices fetches the service catalog for the local reference cache.
func (c *Client) ListServices(ctx context.Context) ([]models.Service, error) {
	env, err := c.doRequest(ctx, http.MethodGet, "/services", nil, "")
	if err != nil {
		return nil, err
	}
	var services []models.Service
	if err := json.Unmarshal(env.Data, &services); err != nil {
		return nil, fmt.Errorf("decode services: %w", err)
	}
	return services, nil
}

// Ping probes the API health endpoint; used by the connectivity monitor.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "/health", nil, "")
	return err
}
