// Package fetcher walks the result pages of a marketplace search.
package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"adwatch/internal/browser"
	"adwatch/internal/model"
	"adwatch/internal/site"
)

// Page is one loaded result page.
type Page struct {
	URL    string
	Number int
	Markup string
}

// Fetcher opens searches against the marketplace described by a profile.
type Fetcher struct {
	newTransport func() browser.Transport
	profile      *site.Profile
	log          *slog.Logger
}

// New creates a Fetcher. newTransport is called once per search; each
// search owns its transport until the cursor is closed.
func New(newTransport func() browser.Transport, profile *site.Profile, log *slog.Logger) *Fetcher {
	return &Fetcher{
		newTransport: newTransport,
		profile:      profile,
		log:          log,
	}
}

// Search returns a cursor over at most maxPages result pages for filter.
// Nothing is loaded until the first call to Next.
func (f *Fetcher) Search(filter model.Filter, maxPages int) *Pages {
	if maxPages < 1 {
		maxPages = 1
	}
	return &Pages{f: f, filter: filter, max: maxPages}
}

// Pages is a lazy, single-pass sequence of result pages. Typical use:
//
//	pages := fetcher.Search(filter, 3)
//	defer pages.Close()
//	for pages.Next(ctx) {
//		page := pages.Page()
//	}
//	if err := pages.Err(); err != nil { ... }
type Pages struct {
	f      *Fetcher
	filter model.Filter
	max    int

	tr     browser.Transport
	page   Page
	count  int
	err    error
	done   bool
	closed bool
}

// Next loads the next page. It returns false when the listing is exhausted,
// the page limit is reached or an error occurred.
func (p *Pages) Next(ctx context.Context) bool {
	if p.done {
		return false
	}
	if p.count >= p.max {
		p.finish(nil)
		return false
	}
	if err := ctx.Err(); err != nil {
		p.finish(err)
		return false
	}

	if p.count == 0 {
		if err := p.open(ctx); err != nil {
			p.finish(err)
			return false
		}
	} else {
		more, err := p.advance(ctx)
		if err != nil || !more {
			p.finish(err)
			return false
		}
	}

	markup, err := p.tr.Content(ctx)
	if err != nil {
		p.finish(err)
		return false
	}
	p.count++
	p.page = Page{URL: p.tr.URL(), Number: p.count, Markup: markup}
	return true
}

// Page returns the page loaded by the last successful Next.
func (p *Pages) Page() Page {
	return p.page
}

// Err returns the error that ended iteration, if any.
func (p *Pages) Err() error {
	return p.err
}

// Close releases the transport. It is safe to call more than once.
func (p *Pages) Close() error {
	p.done = true
	if p.closed || p.tr == nil {
		p.closed = true
		return nil
	}
	p.closed = true
	return p.tr.Close()
}

func (p *Pages) finish(err error) {
	p.err = err
	if cerr := p.Close(); cerr != nil {
		p.f.log.Warn("close transport", "error", cerr)
	}
}

func (p *Pages) open(ctx context.Context) error {
	p.tr = p.f.newTransport()
	searchURL := p.f.profile.SearchURL(p.filter.Category, p.filter.Keyword)
	if _, err := p.tr.Fetch(ctx, searchURL); err != nil {
		return err
	}
	return p.applyControls(ctx)
}

type control struct {
	name     string
	selector string
	value    string
}

// applyControls narrows the listing with the filter's price and province.
// Missing controls are logged and skipped; the search continues on whatever
// listing is loaded.
func (p *Pages) applyControls(ctx context.Context) error {
	c := p.f.profile.Controls
	var controls []control
	if p.filter.PriceMin != nil {
		controls = append(controls, control{"price_min", c.PriceMin, strconv.Itoa(*p.filter.PriceMin)})
	}
	if p.filter.PriceMax != nil {
		controls = append(controls, control{"price_max", c.PriceMax, strconv.Itoa(*p.filter.PriceMax)})
	}
	if p.filter.Province != nil && *p.filter.Province != "" {
		controls = append(controls, control{"province", c.Province, *p.filter.Province})
	}
	if len(controls) == 0 {
		return nil
	}

	filled := 0
	for _, ctl := range controls {
		if ctl.selector == "" {
			p.f.log.Warn("search control not configured", "filter_id", p.filter.ID, "control", ctl.name)
			continue
		}
		if err := p.tr.Fill(ctx, ctl.selector, ctl.value); err != nil {
			p.f.log.Warn("search control unavailable",
				"filter_id", p.filter.ID, "control", ctl.name, "selector", ctl.selector, "error", err)
			continue
		}
		filled++
	}
	if filled == 0 {
		return nil
	}

	if c.Submit == "" {
		p.f.log.Warn("search submit not configured", "filter_id", p.filter.ID)
		return nil
	}
	if err := p.tr.Click(ctx, c.Submit); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.f.log.Warn("submit search controls", "filter_id", p.filter.ID, "error", err)
	}
	return nil
}

// advance moves to the next result page. It tries each next-page selector
// in order, then falls back to scrolling and reports whether the page grew.
func (p *Pages) advance(ctx context.Context) (bool, error) {
	for _, sel := range p.f.profile.NextPage {
		err := p.tr.Click(ctx, sel)
		if err == nil {
			return true, nil
		}
		var te *browser.TransportError
		if errors.As(err, &te) {
			return false, err
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
	}

	before, err := p.tr.CurrentHeight(ctx)
	if err != nil {
		return false, err
	}
	if err := p.tr.ScrollToBottom(ctx); err != nil {
		return false, err
	}
	after, err := p.tr.CurrentHeight(ctx)
	if err != nil {
		return false, err
	}
	if after > before {
		p.f.log.Debug("page grew on scroll", "filter_id", p.filter.ID, "before", before, "after", after)
		return true, nil
	}
	return false, nil
}
