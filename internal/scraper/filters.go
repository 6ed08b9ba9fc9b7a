package scraper

import (
	"net/url"
	"strings"
)

// Vocabulary lists the recognised filter keys in the order they are applied.
// Brand, model and generation come first because each one repopulates the
// options of the next.
var Vocabulary = []string{
	"brand",
	"model",
	"gen",
	"transmission",
	"fuel",
	"color",
	"mileage_from",
	"mileage_to",
	"year_release_from",
	"year_release_to",
	"price_from",
	"price_to",
}

// queryParams maps filter keys to the query parameter that carries them
// when the two differ.
var queryParams = map[string]string{
	"year_release_from": "year_from",
	"year_release_to":   "year_to",
}

// Filters maps filter keys to the option label to select. Empty values and
// keys outside Vocabulary are ignored.
type Filters map[string]string

// FilterValue is one filter to apply.
type FilterValue struct {
	Key   string
	Value string
}

// Active returns the filters that will be applied, in Vocabulary order.
func (f Filters) Active() []FilterValue {
	var out []FilterValue
	for _, key := range Vocabulary {
		if v := strings.TrimSpace(f[key]); v != "" {
			out = append(out, FilterValue{Key: key, Value: v})
		}
	}
	return out
}

// FiltersFromQuery reads the filter parameters of a listing request.
func FiltersFromQuery(q url.Values) Filters {
	f := Filters{}
	for _, key := range Vocabulary {
		param := key
		if alias, ok := queryParams[key]; ok {
			param = alias
		}
		if v := strings.TrimSpace(q.Get(param)); v != "" {
			f[key] = v
		}
	}
	return f
}
