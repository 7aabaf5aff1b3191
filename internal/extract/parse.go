package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"adwatch/internal/model"
)

// ParseAIResponse reads a list of ads from a model response. The outermost
// [...] span is decoded as a JSON array; records without a url or title are
// dropped. Anything malformed yields an empty list.
func ParseAIResponse(resp string) []model.Ad {
	start := strings.Index(resp, "[")
	end := strings.LastIndex(resp, "]")
	if start < 0 || end <= start {
		return nil
	}

	var records []map[string]any
	if err := json.Unmarshal([]byte(resp[start:end+1]), &records); err != nil {
		return nil
	}

	var ads []model.Ad
	for _, r := range records {
		ad := model.Ad{
			URL:         field(r, "url"),
			Title:       field(r, "title"),
			Price:       field(r, "price"),
			Description: field(r, "description"),
			Recency:     field(r, "date"),
			Location:    field(r, "location"),
			PhotoURL:    field(r, "photo"),
		}
		if ad.URL == "" || ad.Title == "" {
			continue
		}
		ads = append(ads, ad)
	}
	return ads
}

func field(r map[string]any, key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64, bool:
		return fmt.Sprint(v)
	default:
		return ""
	}
}
