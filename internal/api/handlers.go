package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"adwatch/internal/model"
	"adwatch/internal/session"
	"adwatch/internal/storage"
)

// Store is the persistence the status API reads.
type Store interface {
	Ping(ctx context.Context) error
	ListFilters(ctx context.Context) ([]model.Filter, error)
	GetSeenAd(ctx context.Context, url string) (*model.SeenAd, error)
}

// Sessions reports the polling sessions.
type Sessions interface {
	Snapshot() []session.Info
}

// Handler serves the status endpoints.
type Handler struct {
	store    Store
	sessions Sessions
	recent   *Recent
	log      *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(store Store, sessions Sessions, recent *Recent, log *slog.Logger) *Handler {
	return &Handler{store: store, sessions: sessions, recent: recent, log: log}
}

type filterJSON struct {
	ID            int64     `json:"id"`
	Category      string    `json:"category"`
	Keyword       string    `json:"keyword"`
	PriceMin      *int      `json:"price_min,omitempty"`
	PriceMax      *int      `json:"price_max,omitempty"`
	Province      *string   `json:"province,omitempty"`
	Municipality  *string   `json:"municipality,omitempty"`
	RequirePhotos bool      `json:"require_photos"`
	CreatedAt     time.Time `json:"created_at"`
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := gin.H{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err := h.store.Ping(c.Request.Context()); err != nil {
		h.log.Error("health check", "operation", "ping", "error", err)
		health["status"] = "unavailable"
		health["error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}

	active := 0
	for _, s := range h.sessions.Snapshot() {
		if s.Status == model.SessionActive {
			active++
		}
	}
	health["status"] = "ok"
	health["active_sessions"] = active
	c.JSON(http.StatusOK, health)
}

func (h *Handler) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.sessions.Snapshot()})
}

func (h *Handler) ListFilters(c *gin.Context) {
	filters, err := h.store.ListFilters(c.Request.Context())
	if err != nil {
		h.log.Error("Database error", "operation", "list_filters", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list filters"})
		return
	}

	out := make([]filterJSON, 0, len(filters))
	for _, f := range filters {
		out = append(out, filterJSON{
			ID:            f.ID,
			Category:      f.Category,
			Keyword:       f.Keyword,
			PriceMin:      f.PriceMin,
			PriceMax:      f.PriceMax,
			Province:      f.Province,
			Municipality:  f.Municipality,
			RequirePhotos: f.RequirePhotos,
			CreatedAt:     f.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"filters": out})
}

func (h *Handler) ListRecentAds(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ads": h.recent.List()})
}

// GetSeenAd reports when the ad at ?url= was first notified.
func (h *Handler) GetSeenAd(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	sa, err := h.store.GetSeenAd(c.Request.Context(), url)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"url": url, "seen": false})
		return
	}
	if err != nil {
		h.log.Error("Database error", "operation", "get_seen_ad", "url", url, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not look up ad"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"url":           sa.URL,
		"seen":          true,
		"first_seen_at": sa.FirstSeenAt,
	})
}
