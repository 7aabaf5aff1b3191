package bot

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"adwatch/internal/model"
	"adwatch/internal/site"
)

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestParseAddFilter(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		want    model.Filter
		wantErr bool
	}{
		{
			name: "category and keyword",
			args: "computadoras laptop",
			want: model.Filter{Category: "computadoras", Keyword: "laptop"},
		},
		{
			name: "multi word keyword",
			args: "Computadoras laptop gaming 16gb",
			want: model.Filter{Category: "computadoras", Keyword: "laptop gaming 16gb"},
		},
		{
			name: "every option",
			args: "autos moto electrica -min 500 -max 2000 -prov La Habana -mun Playa -photos",
			want: model.Filter{
				Category:      "autos",
				Keyword:       "moto electrica",
				PriceMin:      intPtr(500),
				PriceMax:      intPtr(2000),
				Province:      strPtr("La Habana"),
				Municipality:  strPtr("Playa"),
				RequirePhotos: true,
			},
		},
		{
			name: "options in any order",
			args: "vivienda casa -photos -max 30000",
			want: model.Filter{Category: "vivienda", Keyword: "casa", PriceMax: intPtr(30000), RequirePhotos: true},
		},
		{
			name:    "missing keyword",
			args:    "computadoras",
			wantErr: true,
		},
		{
			name:    "option before keyword",
			args:    "computadoras -min 10",
			wantErr: true,
		},
		{
			name:    "empty",
			args:    "",
			wantErr: true,
		},
		{
			name:    "bad price",
			args:    "computadoras laptop -min cheap",
			wantErr: true,
		},
		{
			name:    "negative price",
			args:    "computadoras laptop -max -5",
			wantErr: true,
		},
		{
			name:    "province without value",
			args:    "computadoras laptop -prov",
			wantErr: true,
		},
		{
			name:    "unknown option",
			args:    "computadoras laptop -color red",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAddFilter(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseAddFilter() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseIDArg(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		want    int64
		wantErr bool
	}{
		{name: "valid", args: "42", want: 42},
		{name: "extra words", args: "7 please", want: 7},
		{name: "empty", args: "  ", wantErr: true},
		{name: "not a number", args: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIDArg(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseIDArg() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseSetFilterArgs(t *testing.T) {
	tests := []struct {
		name      string
		args      string
		wantID    int64
		wantField string
		wantValue string
		wantErr   bool
	}{
		{name: "number value", args: "3 price_min 100", wantID: 3, wantField: "price_min", wantValue: "100"},
		{name: "text value with spaces", args: "3 Province La Habana", wantID: 3, wantField: "province", wantValue: "La Habana"},
		{name: "clear", args: "3 municipality", wantID: 3, wantField: "municipality", wantValue: ""},
		{name: "missing field", args: "3", wantErr: true},
		{name: "bad id", args: "x keyword laptop", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, field, value, err := ParseSetFilterArgs(tt.args)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id != tt.wantID || field != tt.wantField || value != tt.wantValue {
				t.Errorf("got (%d, %q, %q), want (%d, %q, %q)", id, field, value, tt.wantID, tt.wantField, tt.wantValue)
			}
		})
	}
}

func TestFormatFilter(t *testing.T) {
	tests := []struct {
		name   string
		filter model.Filter
		want   string
	}{
		{
			name:   "keyword only",
			filter: model.Filter{ID: 1, Category: "computadoras", Keyword: "laptop"},
			want:   "#1 [computadoras] laptop",
		},
		{
			name: "every field",
			filter: model.Filter{
				ID: 2, Category: "autos", Keyword: "moto",
				PriceMin: intPtr(500), PriceMax: intPtr(2000),
				Province: strPtr("La Habana"), Municipality: strPtr("Playa"),
				RequirePhotos: true,
			},
			want: "#2 [autos] moto | price 500-2000 | province: La Habana | municipality: Playa | photos only",
		},
		{
			name:   "lower bound",
			filter: model.Filter{ID: 3, Category: "vivienda", Keyword: "casa", PriceMin: intPtr(100)},
			want:   "#3 [vivienda] casa | price from 100",
		},
		{
			name:   "upper bound",
			filter: model.Filter{ID: 4, Category: "vivienda", Keyword: "casa", PriceMax: intPtr(900)},
			want:   "#4 [vivienda] casa | price up to 900",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, FormatFilter(tt.filter)); diff != "" {
				t.Errorf("FormatFilter() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatFilterList(t *testing.T) {
	empty := FormatFilterList(nil)
	if !strings.Contains(empty, "no filters yet") {
		t.Errorf("empty list = %q", empty)
	}

	got := FormatFilterList([]model.Filter{
		{ID: 1, Category: "computadoras", Keyword: "laptop"},
		{ID: 2, Category: "vivienda", Keyword: "casa"},
	})
	want := "Your filters:\n\n#1 [computadoras] laptop\n#2 [vivienda] casa"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FormatFilterList() mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  model.SessionStatus
		keyword string
		count   int
		want    string
	}{
		{name: "idle", status: model.SessionIdle, count: 0, want: "Search: stopped\nFilters: 0"},
		{name: "active with keyword", status: model.SessionActive, keyword: "laptop", count: 2, want: "Search: running\nKeyword: laptop\nFilters: 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, FormatStatus(tt.status, tt.keyword, tt.count)); diff != "" {
				t.Errorf("FormatStatus() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFormatCategories(t *testing.T) {
	got := FormatCategories([]site.Category{{Slug: "autos", Name: "Autos"}, {Slug: "vivienda", Name: "Vivienda"}})
	want := "Categories:\n\nautos - Autos\nvivienda - Vivienda"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FormatCategories() mismatch (-want +got):\n%s", diff)
	}
}
