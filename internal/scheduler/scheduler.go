// Package scheduler runs the polling cycles of a session.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"adwatch/internal/browser"
	"adwatch/internal/extract"
	"adwatch/internal/fetcher"
	"adwatch/internal/match"
	"adwatch/internal/model"
	"adwatch/internal/notify"
)

// Extractor reads ads from a result page.
type Extractor interface {
	Extract(ctx context.Context, page fetcher.Page, keyword string) ([]model.Ad, error)
}

// Dispatcher delivers an ad to a chat and records it as seen.
type Dispatcher interface {
	Send(ctx context.Context, ad model.Ad, chatID int64) (notify.Outcome, error)
}

// Enricher completes a new ad with data from its own page before it is
// sent. It returns the ad unchanged when the lookup fails.
type Enricher interface {
	Enrich(ctx context.Context, ad model.Ad) model.Ad
}

// Store is the persistence the scheduler reads from.
type Store interface {
	ListFilters(ctx context.Context) ([]model.Filter, error)
	IsSeen(ctx context.Context, url string) (bool, error)
}

// Config holds the scheduler timings.
type Config struct {
	// Interval separates two cycles.
	Interval time.Duration
	// IdleWait replaces Interval when there was nothing to search.
	IdleWait time.Duration
	// AdDelay throttles consecutive notifications.
	AdDelay time.Duration
	// MaxPages bounds how many result pages are read per filter.
	MaxPages int
}

// Stats summarises one cycle.
type Stats struct {
	Filters    int
	Pages      int
	Ads        int
	Candidates int
	Sent       int
	Failed     int
}

// Scheduler polls the marketplace for every filter and notifies new ads.
type Scheduler struct {
	store      Store
	fetcher    *fetcher.Fetcher
	extractor  Extractor
	matcher    *match.Matcher
	dispatcher Dispatcher
	enricher   Enricher
	cfg        Config
	log        *slog.Logger
}

// New creates a Scheduler.
func New(store Store, f *fetcher.Fetcher, ex Extractor, m *match.Matcher, d Dispatcher, cfg Config, log *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = 30 * time.Second
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 3
	}
	return &Scheduler{
		store:      store,
		fetcher:    f,
		extractor:  ex,
		matcher:    m,
		dispatcher: d,
		cfg:        cfg,
		log:        log,
	}
}

// SetEnricher enables the per-ad detail lookup for new candidates.
func (s *Scheduler) SetEnricher(e Enricher) {
	s.enricher = e
}

// Run polls for chatID until ctx is cancelled. keyword, when set, is searched
// across all departments in addition to the stored filters. A panic inside a
// cycle ends the loop with an error.
func (s *Scheduler) Run(ctx context.Context, chatID int64, keyword string) error {
	for {
		stats, err := s.safeCycle(ctx, chatID, keyword)
		if err != nil {
			return err
		}

		wait := s.cfg.Interval
		if stats.Filters == 0 {
			wait = s.cfg.IdleWait
		}
		if !sleep(ctx, wait) {
			return nil
		}
	}
}

func (s *Scheduler) safeCycle(ctx context.Context, chatID int64, keyword string) (stats Stats, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("poll cycle panicked", "chat_id", chatID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("poll cycle panicked: %v", r)
		}
	}()
	return s.RunCycle(ctx, chatID, keyword), nil
}

// RunCycle searches every filter once, in list order, and notifies chatID
// of each new matching ad. Failures are contained to the filter, page or ad
// they occur in.
func (s *Scheduler) RunCycle(ctx context.Context, chatID int64, keyword string) Stats {
	var stats Stats

	filters, err := s.store.ListFilters(ctx)
	if err != nil {
		s.log.Error("list filters", "chat_id", chatID, "error", err)
		filters = nil
	}
	if keyword != "" {
		filters = append(filters, model.Filter{Keyword: keyword})
	}
	stats.Filters = len(filters)

	for _, f := range filters {
		if ctx.Err() != nil {
			return stats
		}
		s.processFilter(ctx, chatID, f, &stats)
	}

	if stats.Sent > 0 || stats.Failed > 0 {
		s.log.Info("poll cycle finished",
			"chat_id", chatID,
			"filters", stats.Filters,
			"pages", stats.Pages,
			"ads", stats.Ads,
			"candidates", stats.Candidates,
			"sent", stats.Sent,
			"failed", stats.Failed)
	}
	return stats
}

func (s *Scheduler) processFilter(ctx context.Context, chatID int64, f model.Filter, stats *Stats) {
	s.log.Debug("searching filter", "chat_id", chatID, "filter_id", f.ID, "category", f.Category, "keyword", f.Keyword)

	pages := s.fetcher.Search(f, s.cfg.MaxPages)
	defer func() { _ = pages.Close() }()

	for pages.Next(ctx) {
		stats.Pages++
		s.processPage(ctx, chatID, f, pages.Page(), stats)
		if ctx.Err() != nil {
			return
		}
	}

	err := pages.Err()
	if err == nil || ctx.Err() != nil {
		return
	}
	var te *browser.TransportError
	if errors.As(err, &te) {
		s.log.Error("search transport failed", "filter_id", f.ID, "url", te.URL, "error", te.Err)
		return
	}
	s.log.Error("search failed", "filter_id", f.ID, "error", err)
}

func (s *Scheduler) processPage(ctx context.Context, chatID int64, f model.Filter, page fetcher.Page, stats *Stats) {
	ads, err := s.extractor.Extract(ctx, page, f.Keyword)
	if errors.Is(err, extract.ErrStructuralMismatch) {
		s.log.Warn("no listings recognised", "filter_id", f.ID, "url", page.URL, "error", err)
		return
	}
	if err != nil {
		s.log.Error("extract ads", "filter_id", f.ID, "url", page.URL, "error", err)
		return
	}
	stats.Ads += len(ads)

	candidates := s.matcher.Filter(ads, f)
	stats.Candidates += len(candidates)
	for _, ad := range candidates {
		if ctx.Err() != nil {
			return
		}
		s.processAd(ctx, chatID, ad, stats)
	}
}

func (s *Scheduler) processAd(ctx context.Context, chatID int64, ad model.Ad, stats *Stats) {
	seen, err := s.store.IsSeen(ctx, ad.URL)
	if err != nil {
		s.log.Error("check seen", "url", ad.URL, "error", err)
		return
	}
	if seen {
		return
	}
	if s.enricher != nil {
		ad = s.enricher.Enrich(ctx, ad)
	}

	out, err := s.dispatcher.Send(ctx, ad, chatID)
	var de *notify.DeliveryError
	switch {
	case errors.As(err, &de):
		stats.Failed++
		s.log.Error("deliver ad", "chat_id", chatID, "url", ad.URL, "error", de.Err)
		return
	case err != nil:
		s.log.Error("record delivered ad", "chat_id", chatID, "url", ad.URL, "error", err)
	}
	if out.Delivered() {
		stats.Sent++
		s.log.Info("ad notified", "chat_id", chatID, "url", ad.URL, "method", out.Method)
	}

	sleep(ctx, s.cfg.AdDelay)
}

// sleep waits for d or until ctx is done, reporting whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
