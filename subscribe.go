package querycache

import "sync"

type EventKind int

const (
	EventUpdated EventKind = iota + 1
	EventInvalidated
	EventRemoved
	EventCleared
)

func (k EventKind) String() string {
	switch k {
	case EventUpdated:
		return "updated"
	case EventInvalidated:
		return "invalidated"
	case EventRemoved:
		return "removed"
	case EventCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Event describes a change to a cached key. Key is zero for EventCleared.
type Event struct {
	Key  Key
	Kind EventKind
}

type subscriber struct {
	key Key
	fn  func(Event)
}

type subscribers struct {
	mu   sync.Mutex
	next uint64
	m    map[string]map[uint64]subscriber
}

func (s *subscribers) add(sk string, key Key, fn func(Event)) func() {
	s.mu.Lock()
	if s.m == nil {
		s.m = make(map[string]map[uint64]subscriber)
	}
	s.next++
	id := s.next
	if s.m[sk] == nil {
		s.m[sk] = make(map[uint64]subscriber)
	}
	s.m[sk][id] = subscriber{key: key, fn: fn}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.m[sk], id)
			if len(s.m[sk]) == 0 {
				delete(s.m, sk)
			}
			s.mu.Unlock()
		})
	}
}

func (s *subscribers) snapshot(sk string) []subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := make([]subscriber, 0, len(s.m[sk]))
	for _, sub := range s.m[sk] {
		subs = append(subs, sub)
	}
	return subs
}

func (s *subscribers) emit(ev Event, sk string) {
	for _, sub := range s.snapshot(sk) {
		sub.fn(ev)
	}
}

func (s *subscribers) emitMany(kind EventKind, sks []string) {
	for _, sk := range sks {
		for _, sub := range s.snapshot(sk) {
			sub.fn(Event{Key: sub.key, Kind: kind})
		}
	}
}

func (s *subscribers) emitAll(ev Event) {
	s.mu.Lock()
	var subs []subscriber
	for _, m := range s.m {
		for _, sub := range m {
			subs = append(subs, sub)
		}
	}
	s.mu.Unlock()
	for _, sub := range subs {
		sub.fn(ev)
	}
}
