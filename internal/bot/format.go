package bot

import (
	"fmt"
	"strings"

	"adwatch/internal/model"
	"adwatch/internal/site"
)

// FormatFilter formats a filter on one line with every constraint it sets.
func FormatFilter(f model.Filter) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d [%s] %s", f.ID, f.Category, f.Keyword)
	if p := priceRange(f.PriceMin, f.PriceMax); p != "" {
		fmt.Fprintf(&b, " | price %s", p)
	}
	if f.Province != nil {
		fmt.Fprintf(&b, " | province: %s", *f.Province)
	}
	if f.Municipality != nil {
		fmt.Fprintf(&b, " | municipality: %s", *f.Municipality)
	}
	if f.RequirePhotos {
		b.WriteString(" | photos only")
	}
	return b.String()
}

// FormatFilterList formats the stored filters for display.
func FormatFilterList(filters []model.Filter) string {
	if len(filters) == 0 {
		return "You have no filters yet. Use /addfilter <category> <keyword> to add one."
	}
	var b strings.Builder
	b.WriteString("Your filters:\n")
	for _, f := range filters {
		b.WriteString("\n")
		b.WriteString(FormatFilter(f))
	}
	return b.String()
}

func priceRange(minPrice, maxPrice *int) string {
	switch {
	case minPrice != nil && maxPrice != nil:
		return fmt.Sprintf("%d-%d", *minPrice, *maxPrice)
	case minPrice != nil:
		return fmt.Sprintf("from %d", *minPrice)
	case maxPrice != nil:
		return fmt.Sprintf("up to %d", *maxPrice)
	}
	return ""
}

// FormatStatus describes a conversation's search session.
func FormatStatus(status model.SessionStatus, keyword string, filterCount int) string {
	var b strings.Builder
	if status == model.SessionActive {
		b.WriteString("Search: running\n")
	} else {
		b.WriteString("Search: stopped\n")
	}
	if keyword != "" {
		fmt.Fprintf(&b, "Keyword: %s\n", keyword)
	}
	fmt.Fprintf(&b, "Filters: %d", filterCount)
	return b.String()
}

// FormatCategories lists the marketplace departments accepted by /addfilter.
func FormatCategories(categories []site.Category) string {
	if len(categories) == 0 {
		return "No categories are configured."
	}
	var b strings.Builder
	b.WriteString("Categories:\n")
	for _, c := range categories {
		fmt.Fprintf(&b, "\n%s - %s", c.Slug, c.Name)
	}
	return b.String()
}
