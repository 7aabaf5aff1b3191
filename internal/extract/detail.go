package extract

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"adwatch/internal/browser"
	"adwatch/internal/model"
	"adwatch/internal/site"
)

// Detailer completes an ad with the contact data and gallery photo found on
// its own page.
type Detailer struct {
	newTransport func() browser.Transport
	detail       site.Detail
	log          *slog.Logger
}

// NewDetailer creates a Detailer. newTransport is called once per ad.
func NewDetailer(newTransport func() browser.Transport, profile *site.Profile, log *slog.Logger) *Detailer {
	return &Detailer{newTransport: newTransport, detail: profile.Detail, log: log}
}

// Enrich loads the ad's page and returns the ad with its contact fields set.
// A gallery photo replaces the listing thumbnail. When the page cannot be
// loaded or parsed the ad is returned unchanged.
func (d *Detailer) Enrich(ctx context.Context, ad model.Ad) model.Ad {
	tr := d.newTransport()
	defer func() { _ = tr.Close() }()

	markup, err := tr.Fetch(ctx, ad.URL)
	if err != nil {
		d.log.Warn("load ad details", "url", ad.URL, "error", err)
		return ad
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		d.log.Warn("parse ad details", "url", ad.URL, "error", err)
		return ad
	}

	ad.Contact = textOf(doc.Selection, d.detail.Contact)
	ad.Phone = strings.ReplaceAll(textOf(doc.Selection, d.detail.Phone), " ", "")
	ad.Email = textOf(doc.Selection, d.detail.Email)

	if photo := photoOf(doc.Selection, d.detail.Images); photo != "" {
		base, _ := url.Parse(tr.URL())
		if base == nil || !base.IsAbs() {
			base, _ = url.Parse(ad.URL)
		}
		ad.PhotoURL = resolve(base, photo)
	}
	return ad
}
