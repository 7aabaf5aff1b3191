package bot

import (
	"fmt"
	"strconv"
	"strings"

	"adwatch/internal/model"
)

const addFilterUsage = "usage: /addfilter <category> <keyword...> [-min N] [-max N] [-prov P] [-mun M] [-photos]"

// ParseAddFilter parses arguments for /addfilter.
// Format: <category> <keyword...> [-min N] [-max N] [-prov P] [-mun M] [-photos]
// Province and municipality values may span several words.
func ParseAddFilter(args string) (model.Filter, error) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return model.Filter{}, fmt.Errorf(addFilterUsage)
	}

	f := model.Filter{Category: strings.ToLower(parts[0])}
	rest := parts[1:]

	var keyword []string
	for len(rest) > 0 && !isFlag(rest[0]) {
		keyword = append(keyword, rest[0])
		rest = rest[1:]
	}
	if len(keyword) == 0 {
		return model.Filter{}, fmt.Errorf("keyword is required")
	}
	f.Keyword = strings.Join(keyword, " ")

	for len(rest) > 0 {
		flag := rest[0]
		rest = rest[1:]

		var value []string
		for len(rest) > 0 && !isFlag(rest[0]) {
			value = append(value, rest[0])
			rest = rest[1:]
		}

		switch flag {
		case "-photos":
			if len(value) > 0 {
				return model.Filter{}, fmt.Errorf("-photos takes no value")
			}
			f.RequirePhotos = true
		case "-min", "-max":
			n, err := parsePriceValue(flag, value)
			if err != nil {
				return model.Filter{}, err
			}
			if flag == "-min" {
				f.PriceMin = &n
			} else {
				f.PriceMax = &n
			}
		case "-prov", "-mun":
			if len(value) == 0 {
				return model.Filter{}, fmt.Errorf("%s needs a value", flag)
			}
			v := strings.Join(value, " ")
			if flag == "-prov" {
				f.Province = &v
			} else {
				f.Municipality = &v
			}
		default:
			return model.Filter{}, fmt.Errorf("unknown option %q, %s", flag, addFilterUsage)
		}
	}

	return f, nil
}

func isFlag(s string) bool {
	if len(s) < 2 || s[0] != '-' {
		return false
	}
	// "-5" is a value, not an option.
	_, err := strconv.Atoi(s)
	return err != nil
}

func parsePriceValue(flag string, value []string) (int, error) {
	if len(value) != 1 {
		return 0, fmt.Errorf("%s needs one number", flag)
	}
	n, err := strconv.Atoi(value[0])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid price %q for %s", value[0], flag)
	}
	return n, nil
}

// ParseIDArg extracts a numeric filter ID from a command argument string.
func ParseIDArg(args string) (int64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("filter ID is required")
	}
	id, err := strconv.ParseInt(strings.Fields(s)[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid filter ID %q", s)
	}
	return id, nil
}

// ParseSetFilterArgs extracts a filter ID, a field name and the new value.
// An omitted value clears an optional field.
func ParseSetFilterArgs(args string) (int64, string, string, error) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return 0, "", "", fmt.Errorf("usage: /setfilter <id> <field> [value]")
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", "", fmt.Errorf("invalid filter ID %q", parts[0])
	}
	field := strings.ToLower(parts[1])
	value := strings.Join(parts[2:], " ")
	return id, field, value, nil
}
