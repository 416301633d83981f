// Package filter holds a subscription's interest set: every ticker, or an
// explicit set of symbols. It is resolved once when the session starts.
package filter

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"quotestream.com/internal/quotes/model"
)

const Wildcard = "*"

var ErrInvalidTicker = errors.New("filter: invalid ticker")

var symbolRe = regexp.MustCompile(`^[A-Z0-9.\-]{1,10}$`)

// Filter is immutable after construction.
type Filter struct {
	all     bool
	tickers map[string]struct{}
}

func All() Filter { return Filter{all: true} }

// Tickers builds an explicit filter. Symbols are normalized; an empty set
// matches nothing.
func Tickers(symbols ...string) Filter {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		if s = model.NormalizeTicker(s); s != "" {
			set[s] = struct{}{}
		}
	}
	return Filter{tickers: set}
}

func (f Filter) IsAll() bool { return f.all }

func (f Filter) Matches(ticker string) bool {
	if f.all {
		return true
	}
	_, ok := f.tickers[ticker]
	return ok
}

// Symbols returns the explicit set sorted, or nil for All.
func (f Filter) Symbols() []string {
	if f.all {
		return nil
	}
	out := make([]string, 0, len(f.tickers))
	for t := range f.tickers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (f Filter) String() string {
	if f.all {
		return Wildcard
	}
	return strings.Join(f.Symbols(), ",")
}

// Parse resolves the raw "tickers" query value. present reports whether the
// parameter was sent at all; absent, blank, or any "*" element yields All.
func Parse(raw string, present bool) (Filter, error) {
	if !present || strings.TrimSpace(raw) == "" {
		return All(), nil
	}

	var symbols []string
	for _, part := range strings.Split(raw, ",") {
		s := model.NormalizeTicker(part)
		if s == "" {
			continue
		}
		if s == Wildcard {
			return All(), nil
		}
		if !symbolRe.MatchString(s) {
			return Filter{}, fmt.Errorf("%w: %q", ErrInvalidTicker, part)
		}
		symbols = append(symbols, s)
	}
	if len(symbols) == 0 {
		return All(), nil
	}
	return Tickers(symbols...), nil
}
