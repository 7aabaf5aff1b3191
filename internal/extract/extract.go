// Package extract turns listing page markup into ads.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"adwatch/internal/fetcher"
	"adwatch/internal/model"
	"adwatch/internal/site"
)

// ErrStructuralMismatch is returned when no listing could be recognised in a
// page and the AI fallback was unavailable or failed. Callers treat it as
// zero ads.
var ErrStructuralMismatch = errors.New("listing structure not recognised")

// AI extracts listings from a markup excerpt. The response is expected to
// hold a JSON array of ads but may be malformed.
type AI interface {
	ExtractListings(ctx context.Context, excerpt, query string) (string, error)
}

// Extractor reads ads from result pages using the profile's selectors, with
// an optional AI fallback.
type Extractor struct {
	profile *site.Profile
	ai      AI
	log     *slog.Logger
}

// New creates an Extractor. ai may be nil to disable the fallback.
func New(profile *site.Profile, ai AI, log *slog.Logger) *Extractor {
	return &Extractor{profile: profile, ai: ai, log: log}
}

// Extract returns the ads found on page in document order.
func (e *Extractor) Extract(ctx context.Context, page fetcher.Page, keyword string) ([]model.Ad, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.Markup))
	if err != nil {
		return nil, fmt.Errorf("parse page %d: %w", page.Number, err)
	}
	base := e.baseURL(page.URL)
	if ads := e.fromSelectors(doc, base); len(ads) > 0 {
		return ads, nil
	}

	if e.ai == nil {
		return nil, ErrStructuralMismatch
	}

	e.log.Info("no listings matched selectors, using AI fallback", "url", page.URL, "page", page.Number)
	resp, err := e.ai.ExtractListings(ctx, e.excerpt(doc), aiQuery(keyword))
	if err != nil {
		return nil, fmt.Errorf("%w: ai fallback: %v", ErrStructuralMismatch, err)
	}

	ads := ParseAIResponse(resp)
	for i := range ads {
		ads[i].URL = resolve(base, ads[i].URL)
		ads[i].PhotoURL = resolve(base, ads[i].PhotoURL)
	}
	e.log.Debug("AI fallback extracted ads", "url", page.URL, "count", len(ads))
	return ads, nil
}

func aiQuery(keyword string) string {
	return fmt.Sprintf("Extract all ads published seconds ago related to '%s'. "+
		"Return a JSON list with the fields: url, title, description, date, price, location, photo.", keyword)
}

// fromSelectors tries each container selector in priority order and returns
// the ads of the first container that yields any.
func (e *Extractor) fromSelectors(doc *goquery.Document, base *url.URL) []model.Ad {
	l := e.profile.Listing
	for _, cs := range l.Containers {
		var ads []model.Ad
		doc.Find(cs).EachWithBreak(func(_ int, container *goquery.Selection) bool {
			e.stripSponsored(container)
			ads = e.items(container, base)
			return len(ads) == 0
		})
		if len(ads) > 0 {
			return ads
		}
	}
	return nil
}

func (e *Extractor) items(container *goquery.Selection, base *url.URL) []model.Ad {
	l := e.profile.Listing
	var ads []model.Ad
	container.Find(l.Item).Each(func(_ int, item *goquery.Selection) {
		link := attrOf(item, l.Link, "href")
		if link == "" || strings.HasPrefix(link, "#") || strings.HasPrefix(link, "javascript:") {
			return
		}
		ads = append(ads, model.Ad{
			URL:         resolve(base, link),
			Title:       textOf(item, l.Title),
			Price:       textOf(item, l.Price),
			Description: textOf(item, l.Description),
			Recency:     textOf(item, l.Recency),
			Location:    textOf(item, l.Location),
			PhotoURL:    resolve(base, photoOf(item, l.Photo)),
		})
	})
	return ads
}

// stripSponsored removes the descendants of root whose class marks them as
// advertising. root itself is kept.
func (e *Extractor) stripSponsored(root *goquery.Selection) {
	if len(e.profile.Sponsored) == 0 {
		return
	}
	root.Find("[class]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return e.profile.IsSponsored(s.AttrOr("class", ""))
	}).Remove()
}

// excerpt returns the first plausible listing container, or else the start
// of the body, bounded by the profile's MaxExcerpt.
func (e *Extractor) excerpt(doc *goquery.Document) string {
	var out string
	for _, cs := range e.profile.Listing.Containers {
		if sel := doc.Find(cs).First(); sel.Length() > 0 {
			e.stripSponsored(sel)
			if html, err := goquery.OuterHtml(sel); err == nil && strings.TrimSpace(html) != "" {
				out = html
				break
			}
		}
	}
	if out == "" {
		body := doc.Find("body")
		if body.Length() == 0 {
			body = doc.Selection
		}
		e.stripSponsored(body)
		out, _ = body.Html()
	}
	return truncate(out, e.profile.MaxExcerpt)
}

func (e *Extractor) baseURL(pageURL string) *url.URL {
	if u, err := url.Parse(pageURL); err == nil && u.IsAbs() {
		return u
	}
	u, err := url.Parse(e.profile.BaseURL)
	if err != nil {
		return nil
	}
	return u
}

func textOf(item *goquery.Selection, selectors []string) string {
	for _, s := range selectors {
		if t := strings.TrimSpace(item.Find(s).First().Text()); t != "" {
			return strings.Join(strings.Fields(t), " ")
		}
	}
	return ""
}

func attrOf(item *goquery.Selection, selectors []string, attr string) string {
	if goquery.NodeName(item) == "a" {
		if v := strings.TrimSpace(item.AttrOr(attr, "")); v != "" {
			return v
		}
	}
	for _, s := range selectors {
		if v := strings.TrimSpace(item.Find(s).First().AttrOr(attr, "")); v != "" {
			return v
		}
	}
	return ""
}

func photoOf(item *goquery.Selection, selectors []string) string {
	for _, s := range selectors {
		node := item.Find(s).First()
		if node.Length() == 0 {
			continue
		}
		var v string
		if goquery.NodeName(node) == "img" {
			v = node.AttrOr("src", node.AttrOr("data-src", ""))
		} else {
			v = node.AttrOr("href", "")
		}
		if v = strings.TrimSpace(v); v != "" && !strings.HasPrefix(v, "data:") {
			return v
		}
	}
	return ""
}

func resolve(base *url.URL, ref string) string {
	if ref == "" || base == nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(r).String()
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
