package api

import (
	"sync"
	"time"

	"adwatch/internal/model"
)

// RecentAd is a notified ad as reported by the status API.
type RecentAd struct {
	model.Ad
	ChatID     int64     `json:"chat_id"`
	NotifiedAt time.Time `json:"notified_at"`
}

// Recent keeps the last notified ads in a fixed-size ring.
type Recent struct {
	mu   sync.Mutex
	ads  []RecentAd
	next int
	full bool
	now  func() time.Time
}

// NewRecent creates a ring holding up to size ads.
func NewRecent(size int) *Recent {
	if size < 1 {
		size = 1
	}
	return &Recent{ads: make([]RecentAd, size), now: time.Now}
}

// Add records ad as delivered to chatID. Its signature matches the
// dispatcher's new-ad callback.
func (r *Recent) Add(ad model.Ad, chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ads[r.next] = RecentAd{Ad: ad, ChatID: chatID, NotifiedAt: r.now()}
	r.next = (r.next + 1) % len(r.ads)
	if r.next == 0 {
		r.full = true
	}
}

// List returns the recorded ads, newest first.
func (r *Recent) List() []RecentAd {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.next
	if r.full {
		n = len(r.ads)
	}
	out := make([]RecentAd, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, r.ads[(r.next-i+len(r.ads))%len(r.ads)])
	}
	return out
}
