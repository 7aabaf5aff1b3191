package notify

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"adwatch/internal/model"
)

// Telegram length limits, in characters.
const (
	MaxCaptionLen = 1024
	MaxTextLen    = 4096
)

const ellipsis = "…"

// FormatAd renders the notification for an ad, shortening the description
// and then the title until the message fits in limit characters.
// A limit of zero disables shortening.
func FormatAd(ad model.Ad, limit int) string {
	title, desc := ad.Title, ad.Description
	msg := renderAd(ad, title, desc)
	if limit <= 0 {
		return msg
	}

	for _, field := range []*string{&desc, &title} {
		for utf8.RuneCountInString(msg) > limit && *field != "" {
			over := utf8.RuneCountInString(msg) - limit
			*field = shorten(*field, over+utf8.RuneCountInString(ellipsis))
			msg = renderAd(ad, title, desc)
		}
	}
	if utf8.RuneCountInString(msg) > limit {
		msg = string([]rune(msg)[:limit])
	}
	return msg
}

func renderAd(ad model.Ad, title, desc string) string {
	var b strings.Builder
	if title == "" {
		title = "New ad"
	}
	b.WriteString(title)
	b.WriteString("\n")

	details := []struct{ label, value string }{
		{"Price", ad.Price},
		{"Location", ad.Location},
		{"Published", ad.Recency},
		{"Contact", ad.Contact},
		{"Email", ad.Email},
		{"Phone", ad.Phone},
	}
	first := true
	for _, d := range details {
		if d.value == "" {
			continue
		}
		if first {
			b.WriteString("\n")
			first = false
		}
		fmt.Fprintf(&b, "%s: %s\n", d.label, d.value)
	}
	if desc != "" {
		b.WriteString("\n")
		b.WriteString(desc)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(ad.URL)
	return b.String()
}

// shorten drops n runes from the end of s and appends an ellipsis. It
// returns "" when nothing meaningful would remain.
func shorten(s string, n int) string {
	s = strings.TrimSuffix(s, ellipsis)
	r := []rune(s)
	keep := len(r) - n
	if keep <= 0 {
		return ""
	}
	return strings.TrimSpace(string(r[:keep])) + ellipsis
}
