package ws

import (
	"errors"
	"sync"

	"quotestream.com/internal/quotes/filter"
)

var ErrDuplicateConnection = errors.New("ws: duplicate connection id")

// Registry tracks every live subscription. Fan-out reads vastly outnumber
// connects and disconnects.
type Registry interface {
	Register(id string, f filter.Filter, t Transport) (*Subscription, error)
	// Unregister is idempotent; it reports whether id was present.
	Unregister(id string) bool
	SnapshotMatching(ticker string) []*Subscription
	All() []*Subscription
	Len() int
}

type RegistryOptions struct {
	QueueCapacity int
	Policy        Policy
}

// SubscriptionRegistry indexes subscriptions by id, by ticker, and keeps the
// wildcard subscribers apart so a snapshot never scans the whole table.
type SubscriptionRegistry struct {
	mu       sync.RWMutex
	byID     map[string]*Subscription
	byTicker map[string]map[string]*Subscription
	wildcard map[string]*Subscription

	opts RegistryOptions
}

var _ Registry = (*SubscriptionRegistry)(nil)

func NewRegistry(opts RegistryOptions) *SubscriptionRegistry {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 256
	}
	if opts.Policy == "" {
		opts.Policy = PolicyDropOldest
	}
	return &SubscriptionRegistry{
		byID:     make(map[string]*Subscription, 1024),
		byTicker: make(map[string]map[string]*Subscription, 1024),
		wildcard: make(map[string]*Subscription, 64),
		opts:     opts,
	}
}

func (r *SubscriptionRegistry) Register(id string, f filter.Filter, t Transport) (*Subscription, error) {
	sub := newSubscription(id, f, t, r.opts.QueueCapacity, r.opts.Policy)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[id]; ok {
		return nil, ErrDuplicateConnection
	}
	r.byID[id] = sub
	if f.IsAll() {
		r.wildcard[id] = sub
	} else {
		for _, sym := range f.Symbols() {
			set := r.byTicker[sym]
			if set == nil {
				set = make(map[string]*Subscription, 16)
				r.byTicker[sym] = set
			}
			set[id] = sub
		}
	}
	sub.state.Store(int32(StateActive))
	return sub, nil
}

func (r *SubscriptionRegistry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	if sub.filter.IsAll() {
		delete(r.wildcard, id)
		return true
	}
	for _, t := range sub.filter.Symbols() {
		if set := r.byTicker[t]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(r.byTicker, t)
			}
		}
	}
	return true
}

// SnapshotMatching returns the subscriptions interested in ticker at the time
// of the call. The slice is owned by the caller.
func (r *SubscriptionRegistry) SnapshotMatching(ticker string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byTicker[ticker]
	if len(set)+len(r.wildcard) == 0 {
		return nil
	}
	out := make([]*Subscription, 0, len(set)+len(r.wildcard))
	for _, s := range r.wildcard {
		out = append(out, s)
	}
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

func (r *SubscriptionRegistry) All() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Subscription, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}

func (r *SubscriptionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
