package models

import "time"

type Provider struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Phone       string   `json:"phone"`
	Rating      float64  `json:"rating"`
	ReviewCount int64    `json:"review_count"`
	ServiceIDs  []string `json:"service_ids"`
	City        string   `json:"city"`
	IsActive    bool     `json:"is_active"`
}

type Service struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	BasePrice   float64 `json:"base_price"`
	IsActive    bool    `json:"is_active"`
}

// CacheEntry is the stored shape shared by all entity cache collections.
// Data holds the entity snapshot as JSON; Synced is meaningful only for
// bookings (false until the server has confirmed the record).
type CacheEntry struct {
	ID       string    `json:"id"`
	Data     []byte    `json:"data"`
	CachedAt time.Time `json:"cached_at"`
	Synced   bool      `json:"synced"`
}
