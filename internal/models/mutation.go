package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Mutation kinds form a closed set; adding a kind requires a payload type
// and an apply branch in the syncer.
const (
	KindCreateBooking = "create_booking"
	KindUpdateBooking = "update_booking"
	KindUpdateStatus  = "update_status"
	KindCreateReview  = "create_review"
)

// QueuedMutation is a durable write-intent awaiting sync with the server.
type QueuedMutation struct {
	ID         int64     `json:"id"`
	Kind       string    `json:"kind"`
	LocalID    string    `json:"local_id"`
	Payload    string    `json:"payload"`
	RetryCount int       `json:"retry_count"`
	LastError  *string   `json:"last_error"`
	CreatedAt  time.Time `json:"created_at"`
}

// Sync result statuses.
const (
	SyncStatusSynced        = "synced"
	SyncStatusFailed        = "failed"
	SyncStatusAlreadySynced = "already_synced"
)

// SyncResult reports the outcome of one mutation during a drain pass.
// It is transient and never persisted.
type SyncResult struct {
	LocalID  string          `json:"local_id"`
	ServerID string          `json:"server_id,omitempty"`
	Status   string          `json:"status"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// MutationPayload is implemented by the per-kind payload types.
type MutationPayload interface {
	Kind() string
	GetLocalID() string
	SetLocalID(id string)
	Validate() error
}

// CreateBookingPayload carries the fields needed to create a booking.
type CreateBookingPayload struct {
	LocalID          string  `json:"local_id"`
	ServiceID        string  `json:"service_id"`
	ProviderID       string  `json:"provider_id,omitempty"`
	ScheduledAt      string  `json:"scheduled_at,omitempty"`
	Address          string  `json:"address,omitempty"`
	Notes            string  `json:"notes,omitempty"`
	QuotedAmount     float64 `json:"quoted_amount"`
	CommissionAmount float64 `json:"commission_amount"`
}

func (p *CreateBookingPayload) Kind() string        { return KindCreateBooking }
func (p *CreateBookingPayload) GetLocalID() string  { return p.LocalID }
func (p *CreateBookingPayload) SetLocalID(id string) { p.LocalID = id }

func (p *CreateBookingPayload) Validate() error {
	if strings.TrimSpace(p.ServiceID) == "" {
		return fmt.Errorf("missing service ID")
	}
	return nil
}

// UpdateBookingPayload carries a partial update for an existing booking.
type UpdateBookingPayload struct {
	LocalID   string                 `json:"local_id"`
	BookingID string                 `json:"booking_id"`
	Fields    map[string]interface{} `json:"fields"`
}

func (p *UpdateBookingPayload) Kind() string        { return KindUpdateBooking }
func (p *UpdateBookingPayload) GetLocalID() string  { return p.LocalID }
func (p *UpdateBookingPayload) SetLocalID(id string) { p.LocalID = id }

func (p *UpdateBookingPayload) Validate() error {
	if strings.TrimSpace(p.BookingID) == "" {
		return fmt.Errorf("missing booking ID")
	}
	return nil
}

// UpdateStatusPayload requests a status transition for a booking.
type UpdateStatusPayload struct {
	LocalID   string `json:"local_id"`
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
}

func (p *UpdateStatusPayload) Kind() string        { return KindUpdateStatus }
func (p *UpdateStatusPayload) GetLocalID() string  { return p.LocalID }
func (p *UpdateStatusPayload) SetLocalID(id string) { p.LocalID = id }

func (p *UpdateStatusPayload) Validate() error {
	if strings.TrimSpace(p.BookingID) == "" {
		return fmt.Errorf("missing booking ID")
	}
	if _, ok := StatusVerbs[p.Status]; !ok {
		return fmt.Errorf("unknown booking status: %q", p.Status)
	}
	return nil
}

// CreateReviewPayload attaches a review to a completed booking.
type CreateReviewPayload struct {
	LocalID   string  `json:"local_id"`
	BookingID string  `json:"booking_id"`
	Rating    float64 `json:"rating"`
	Comment   string  `json:"comment,omitempty"`
}

func (p *CreateReviewPayload) Kind() string        { return KindCreateReview }
func (p *CreateReviewPayload) GetLocalID() string  { return p.LocalID }
func (p *CreateReviewPayload) SetLocalID(id string) { p.LocalID = id }

func (p *CreateReviewPayload) Validate() error {
	if strings.TrimSpace(p.BookingID) == "" {
		return fmt.Errorf("missing booking ID")
	}
	if p.Rating < 1 || p.Rating > 5 {
		return fmt.Errorf("rating must be between 1 and 5")
	}
	return nil
}

// DecodePayload decodes a stored payload into its typed form by kind.
func DecodePayload(kind string, raw []byte) (MutationPayload, error) {
	var payload MutationPayload
	switch kind {
	case KindCreateBooking:
		payload = &CreateBookingPayload{}
	case KindUpdateBooking:
		payload = &UpdateBookingPayload{}
	case KindUpdateStatus:
		payload = &UpdateStatusPayload{}
	case KindCreateReview:
		payload = &CreateReviewPayload{}
	default:
		return nil, fmt.Errorf("unknown mutation kind: %s", kind)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("empty payload for kind %s", kind)
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return payload, nil
}
