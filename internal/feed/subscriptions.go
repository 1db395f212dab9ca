package feed

import (
	"errors"
	"strings"
	"sync"
)

var (
	// ErrAlreadySubscribed is returned when a pair is subscribed twice.
	ErrAlreadySubscribed = errors.New("feed: pair already subscribed")

	// ErrInvalidPair is returned for an empty or malformed pair.
	ErrInvalidPair = errors.New("feed: invalid pair")
)

// Subscriptions is the set of pairs the feed streams. Pairs are stored
// lower-cased, in the order they were added.
type Subscriptions struct {
	mu    sync.RWMutex
	pairs map[string]struct{}
	order []string
}

// NewSubscriptions creates a set holding pairs. Duplicates and invalid
// names are ignored.
func NewSubscriptions(pairs ...string) *Subscriptions {
	s := &Subscriptions{pairs: make(map[string]struct{})}
	for _, p := range pairs {
		s.Subscribe(p)
	}
	return s
}

// NormalizePair lower-cases and trims a pair name. It returns "" for a
// name that cannot be a stream pair.
func NormalizePair(pair string) string {
	pair = strings.ToLower(strings.TrimSpace(pair))
	if pair == "" {
		return ""
	}
	for _, r := range pair {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return pair
}

// Subscribe adds pair and reports whether it was new.
func (s *Subscriptions) Subscribe(pair string) bool {
	pair = NormalizePair(pair)
	if pair == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pairs[pair]; ok {
		return false
	}
	s.pairs[pair] = struct{}{}
	s.order = append(s.order, pair)
	return true
}

// Contains reports whether pair is subscribed.
func (s *Subscriptions) Contains(pair string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pairs[NormalizePair(pair)]
	return ok
}

// List returns the subscribed pairs.
func (s *Subscriptions) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Len returns the number of subscribed pairs.
func (s *Subscriptions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
