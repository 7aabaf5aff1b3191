// Package model defines the domain types used across the application.
package model

import "time"

// Filter is a saved marketplace search.
type Filter struct {
	ID            int64
	Category      string
	Keyword       string
	PriceMin      *int
	PriceMax      *int
	Province      *string
	Municipality  *string
	RequirePhotos bool
	CreatedAt     time.Time
}

// SeenAd records an ad URL that has already been notified.
type SeenAd struct {
	URL         string
	FirstSeenAt time.Time
}

// Ad is one marketplace listing extracted from a page.
// Every field except URL may be empty.
type Ad struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Price       string `json:"price"`
	Description string `json:"description"`
	Recency     string `json:"date"`
	Location    string `json:"location"`
	PhotoURL    string `json:"photo,omitempty"`

	// Filled from the ad's own page when detail lookup is enabled.
	Contact string `json:"contact,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
}

// HasPhoto reports whether the ad carries a photo URL.
func (a Ad) HasPhoto() bool {
	return a.PhotoURL != ""
}

// SessionStatus is the state of a conversation's polling session.
type SessionStatus string

// Supported session states.
const (
	SessionIdle   SessionStatus = "idle"
	SessionActive SessionStatus = "active"
)
