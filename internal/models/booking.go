package models

import "time"

type Booking struct {
	ID               string    `json:"id"`
	CustomerID       string    `json:"customer_id"`
	ProviderID       string    `json:"provider_id"`
	ServiceID        string    `json:"service_id"`
	ServiceName      string    `json:"service_name"`
	ScheduledAt      time.Time `json:"scheduled_at"`
	Address          string    `json:"address"`
	Status           string    `json:"status"` // pending, accepted, in_progress, completed, cancelled
	Notes            string    `json:"notes"`
	QuotedAmount     float64   `json:"quoted_amount"`
	CommissionAmount float64   `json:"commission_amount"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
