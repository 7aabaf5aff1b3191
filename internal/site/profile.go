// Package site describes the markup layout of the monitored marketplace.
package site

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultProfile []byte

// Profile holds everything the fetcher and extractor need to know about a
// marketplace: where to search and which selectors identify listings.
type Profile struct {
	Name       string     `yaml:"name"`
	BaseURL    string     `yaml:"base_url"`
	SearchPath string     `yaml:"search_path"`
	Categories []Category `yaml:"categories"`

	Listing   Listing  `yaml:"listing"`
	Detail    Detail   `yaml:"detail"`
	NextPage  []string `yaml:"next_page"`
	Controls  Controls `yaml:"controls"`
	Sponsored []string `yaml:"sponsored_markers"`

	// RecencyPhrases are lower-case, accent-free fragments of the recency
	// label that mean "published seconds ago".
	RecencyPhrases []string `yaml:"recency_phrases"`

	// MaxExcerpt bounds the markup handed to the AI extractor, in bytes.
	MaxExcerpt int `yaml:"max_excerpt"`
}

// Category is a marketplace department.
type Category struct {
	Slug string `yaml:"slug"`
	Name string `yaml:"name"`
}

// Listing holds the selectors for result containers, items and item fields.
// Field selectors are tried in order; the first non-empty match wins.
type Listing struct {
	Containers  []string `yaml:"containers"`
	Item        string   `yaml:"item"`
	Link        []string `yaml:"link"`
	Title       []string `yaml:"title"`
	Price       []string `yaml:"price"`
	Description []string `yaml:"description"`
	Recency     []string `yaml:"recency"`
	Location    []string `yaml:"location"`
	Photo       []string `yaml:"photo"`
}

// Detail holds the selectors read from an ad's own page. Image selectors
// point at the gallery; they may match links or img elements.
type Detail struct {
	Contact []string `yaml:"contact"`
	Phone   []string `yaml:"phone"`
	Email   []string `yaml:"email"`
	Images  []string `yaml:"images"`
}

// Enabled reports whether any detail selector is configured.
func (d Detail) Enabled() bool {
	return len(d.Contact)+len(d.Phone)+len(d.Email)+len(d.Images) > 0
}

// Controls are the search form selectors used to narrow a listing.
type Controls struct {
	PriceMin string `yaml:"price_min"`
	PriceMax string `yaml:"price_max"`
	Province string `yaml:"province"`
	Submit   string `yaml:"submit"`
}

// Default returns the embedded marketplace profile.
func Default() (*Profile, error) {
	return Parse(defaultProfile)
}

// Load reads a profile from path. An empty path yields the default profile.
func Load(path string) (*Profile, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read site profile: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("site profile %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a YAML profile, applying defaults.
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	p.setDefaults()
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Profile) setDefaults() {
	p.BaseURL = strings.TrimSuffix(p.BaseURL, "/")
	if p.SearchPath == "" {
		p.SearchPath = "search"
	}
	if p.MaxExcerpt == 0 {
		p.MaxExcerpt = 20000
	}
	if len(p.RecencyPhrases) == 0 {
		p.RecencyPhrases = []string{"segundo", "second"}
	}
}

func (p *Profile) validate() error {
	if p.BaseURL == "" {
		return errors.New("base_url is required")
	}
	u, err := url.Parse(p.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base_url %q", p.BaseURL)
	}
	if len(p.Listing.Containers) == 0 {
		return errors.New("listing.containers must not be empty")
	}
	if p.Listing.Item == "" {
		return errors.New("listing.item is required")
	}
	if p.MaxExcerpt < 0 {
		return errors.New("max_excerpt must be non-negative")
	}
	return nil
}

// SearchURL builds the first results page URL for a keyword in a category.
// An empty category searches all departments. Results are ordered newest
// first.
func (p *Profile) SearchURL(category, keyword string) string {
	var b strings.Builder
	b.WriteString(p.BaseURL)
	if category != "" {
		b.WriteString("/")
		b.WriteString(url.PathEscape(category))
	}
	b.WriteString("/")
	b.WriteString(p.SearchPath)

	q := url.Values{}
	q.Set("q", keyword)
	q.Set("order", "date")
	b.WriteString("?")
	b.WriteString(q.Encode())
	return b.String()
}

// HasCategory reports whether slug names a known department.
func (p *Profile) HasCategory(slug string) bool {
	for _, c := range p.Categories {
		if c.Slug == slug {
			return true
		}
	}
	return false
}

// IsSponsored reports whether a class attribute carries an advertising marker.
func (p *Profile) IsSponsored(class string) bool {
	if class == "" {
		return false
	}
	class = strings.ToLower(class)
	for _, m := range p.Sponsored {
		if strings.Contains(class, m) {
			return true
		}
	}
	return false
}
