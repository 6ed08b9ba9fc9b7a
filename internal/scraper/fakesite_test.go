package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/carlot/internal/browser"
)

// fakeSite is a scripted stand-in for the search and detail pages. It
// recognises the protocol's scripts by their function source and answers
// from in-memory state, round-tripping results through JSON like the CDP
// transport does.
type fakeSite struct {
	mu sync.Mutex

	pages   []string
	current int
	cards   map[string][]Car

	controls     map[string][]string
	searchButton bool
	nextButton   bool
	nextStuck    bool

	sortValues []string
	sortedBy   string

	loaderNeverHides bool
	readyErr         error
	readyDelay       time.Duration
	listErr          error
	beforeList       func()

	filterOptions FilterOptions
	brands        []fakeBrand
	details       map[string]map[string]any

	navigations []string
	applied     []FilterValue
	readyWaits  []string
	nextClicks  int
	scripts     []string
}

type fakeBrand struct {
	name   string
	models []fakeModel
}

type fakeModel struct {
	name string
	gens []string
}

var _ browser.Session = (*fakeSite)(nil)

func newFakeSite() *fakeSite {
	return &fakeSite{
		pages:        []string{"1", "2", "3"},
		cards:        map[string][]Car{},
		controls:     map[string][]string{},
		searchButton: true,
		nextButton:   true,
		details:      map[string]map[string]any{},
	}
}

func (f *fakeSite) ID() string { return "fake-session" }

func (f *fakeSite) CurrentURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.navigations) == 0 {
		return "about:blank"
	}
	return f.navigations[len(f.navigations)-1]
}

func (f *fakeSite) Close(context.Context) error { return nil }

func (f *fakeSite) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navigations = append(f.navigations, url)
	f.current = 0
	f.sortedBy = ""
	return ctx.Err()
}

func (f *fakeSite) Evaluate(ctx context.Context, script string, res any) error {
	return f.evaluate(ctx, script, res)
}

func (f *fakeSite) EvaluateAsync(ctx context.Context, script string, res any) error {
	return f.evaluate(ctx, script, res)
}

func (f *fakeSite) evaluate(ctx context.Context, script string, res any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, args, err := parseScript(script)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.scripts = append(f.scripts, name)
	f.mu.Unlock()

	v, err := f.answer(ctx, name, args)
	if err != nil {
		return err
	}
	data, err := scriptJSON.Marshal(v)
	if err != nil {
		return err
	}
	return scriptJSON.Unmarshal(data, res)
}

func (f *fakeSite) answer(ctx context.Context, name string, args []any) (any, error) {
	if name == "ready_style" || name == "ready_class" {
		return f.ready(ctx, name)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch name {
	case "apply_filter":
		field, label := args[0].(string), args[1].(string)
		labels, ok := f.controls[field]
		if !ok {
			return outcomeNoControl, nil
		}
		for _, l := range labels {
			if l == label {
				f.applied = append(f.applied, FilterValue{Key: field, Value: label})
				return outcomeApplied, nil
			}
		}
		return outcomeNoOption, nil

	case "submit":
		return f.searchButton, nil

	case "next_page":
		if !f.nextButton {
			return false, nil
		}
		f.nextClicks++
		if !f.nextStuck && f.current < len(f.pages)-1 {
			f.current++
		}
		return true, nil

	case "page_info":
		info := map[string]any{"pages_nums": f.pages, "cur_page_num": nil}
		if len(f.pages) > 0 {
			info["cur_page_num"] = f.pages[f.current]
		}
		return info, nil

	case "sort":
		value := args[0].(string)
		for _, v := range f.sortValues {
			if v == value {
				if f.sortedBy == value {
					return outcomeAlreadySelected, nil
				}
				f.sortedBy = value
				return outcomeApplied, nil
			}
		}
		return outcomeNoOption, nil

	case "list":
		if f.beforeList != nil {
			f.beforeList()
		}
		if f.listErr != nil {
			return nil, f.listErr
		}
		if len(f.pages) == 0 {
			return []Car{}, nil
		}
		return f.cards[f.pages[f.current]], nil

	case "filters":
		return f.filterOptions, nil

	case "cascade":
		return f.cascade(args[1].([]any)), nil

	case "details":
		id := args[0].(string)
		if d, ok := f.details[id]; ok {
			return d, nil
		}
		return map[string]any{"id": id}, nil
	}
	return nil, fmt.Errorf("fake site: unhandled script %q", name)
}

func (f *fakeSite) ready(ctx context.Context, name string) (any, error) {
	f.mu.Lock()
	f.readyWaits = append(f.readyWaits, name)
	delay, readyErr, never := f.readyDelay, f.readyErr, f.loaderNeverHides
	f.mu.Unlock()

	if readyErr != nil {
		return nil, readyErr
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return !never, nil
}

func (f *fakeSite) cascade(path []any) []string {
	for _, b := range f.brands {
		if b.name != path[0].(string) {
			continue
		}
		if len(path) == 1 {
			names := []string{}
			for _, m := range b.models {
				names = append(names, m.name)
			}
			return names
		}
		for _, m := range b.models {
			if m.name == path[1].(string) {
				return m.gens
			}
		}
	}
	return []string{}
}

func (f *fakeSite) snapshot() (navigations []string, applied []FilterValue, readyWaits []string, scripts []string, nextClicks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigations...),
		append([]FilterValue(nil), f.applied...),
		append([]string(nil), f.readyWaits...),
		append([]string(nil), f.scripts...),
		f.nextClicks
}

var knownScripts = []struct {
	name string
	fn   string
}{
	{"ready_style", fmt.Sprintf(readyTemplate, StyleHidden.Predicate)},
	{"ready_class", fmt.Sprintf(readyTemplate, ClassHidden.Predicate)},
	{"apply_filter", applyFilterScript},
	{"submit", submitScript},
	{"next_page", nextPageScript},
	{"page_info", pageInfoScript},
	{"sort", sortScript},
	{"list", listScript},
	{"filters", filtersScript},
	{"cascade", cascadeScript},
	{"details", detailsScript},
}

// parseScript maps a rendered call back to its script name and arguments.
func parseScript(script string) (string, []any, error) {
	for _, k := range knownScripts {
		prefix := "(" + k.fn + ")(..."
		if !strings.HasPrefix(script, prefix) || !strings.HasSuffix(script, ")") {
			continue
		}
		var args []any
		raw := strings.TrimSuffix(strings.TrimPrefix(script, prefix), ")")
		if err := scriptJSON.UnmarshalFromString(raw, &args); err != nil {
			return "", nil, fmt.Errorf("fake site: bad arguments for %s: %w", k.name, err)
		}
		return k.name, args, nil
	}
	return "", nil, errors.New("fake site: unknown script")
}

func strPtr(s string) *string { return &s }
