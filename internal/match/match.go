// Package match implements the ad relevance matcher.
package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"adwatch/internal/model"
)

// Matcher decides which extracted ads are worth notifying.
// An ad is a candidate when it was published seconds ago and its title or
// description contains the keyword. Comparison ignores case and accents.
type Matcher struct {
	phrases []string
}

// New creates a Matcher. recentPhrases are the recency label fragments that
// mean "published seconds ago", e.g. "segundo" and "second".
func New(recentPhrases []string) *Matcher {
	m := &Matcher{}
	for _, p := range recentPhrases {
		if p = Normalize(p); p != "" {
			m.phrases = append(m.phrases, p)
		}
	}
	return m
}

// IsCandidate reports whether ad passes both the recency gate and the
// keyword test.
func (m *Matcher) IsCandidate(ad model.Ad, keyword string) bool {
	return m.IsRecent(ad.Recency) && ContainsKeyword(ad, keyword)
}

// IsRecent reports whether a recency label is on a seconds scale.
func (m *Matcher) IsRecent(recency string) bool {
	r := Normalize(recency)
	if r == "" {
		return false
	}
	for _, p := range m.phrases {
		if strings.Contains(r, p) {
			return true
		}
	}
	return false
}

// Filter returns the candidates for filter in their original order. Ads
// without a photo are dropped when the filter requires photos.
func (m *Matcher) Filter(ads []model.Ad, filter model.Filter) []model.Ad {
	var matched []model.Ad
	for _, ad := range ads {
		if filter.RequirePhotos && !ad.HasPhoto() {
			continue
		}
		if m.IsCandidate(ad, filter.Keyword) {
			matched = append(matched, ad)
		}
	}
	return matched
}

// ContainsKeyword reports whether the normalized keyword is a substring of
// the normalized title or description. An empty keyword never matches.
func ContainsKeyword(ad model.Ad, keyword string) bool {
	kw := Normalize(keyword)
	if kw == "" {
		return false
	}
	return strings.Contains(Normalize(ad.Title), kw) ||
		strings.Contains(Normalize(ad.Description), kw)
}

// Normalize lower-cases s, strips diacritics and collapses whitespace.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}
