package infra

import (
	"context"
	"sync"
	"time"

	"security-gateway/middleware/security/domain"
)

// MemoryStore implementa os contratos do domain em memória, com expiração
// preguiçosa checada em cada acesso e limpeza periódica de chaves ociosas.
//
// Útil para testes, desenvolvimento e como modo degradado de instância
// única. Não serve para múltiplas instâncias: não há acordo entre
// processos.
type MemoryStore struct {
	mu       sync.Mutex
	windows  map[string]*windowEntry
	lists    map[string]*listEntry
	counters map[string]*counterEntry
	values   map[string]*valueEntry

	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type windowEntry struct {
	stamps   []time.Time
	lastSeen time.Time
}

type listEntry struct {
	recs      []domain.RequestRecord
	expiresAt time.Time
	lastSeen  time.Time
}

type counterEntry struct {
	n         int64
	expiresAt time.Time
	lastSeen  time.Time
}

type valueEntry struct {
	entry     domain.ReputationEntry
	expiresAt time.Time
	lastSeen  time.Time
}

var (
	_ domain.WindowStore     = (*MemoryStore)(nil)
	_ domain.HistoryStore    = (*MemoryStore)(nil)
	_ domain.CounterStore    = (*MemoryStore)(nil)
	_ domain.ReputationStore = (*MemoryStore)(nil)
)

type MemoryStoreOption func(*MemoryStore)

func WithIdleTTL(d time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) { s.cleanupEvery = d }
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		windows:      make(map[string]*windowEntry),
		lists:        make(map[string]*listEntry),
		counters:     make(map[string]*counterEntry),
		values:       make(map[string]*valueEntry),
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Slide(_ context.Context, key domain.Key, window time.Duration) (int64, error) {
	now := time.Now()
	cutoff := now.Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.windows[string(key)]
	if !ok {
		ent = &windowEntry{}
		s.windows[string(key)] = ent
	}
	ent.stamps = trimBefore(ent.stamps, cutoff)
	ent.stamps = append(ent.stamps, now)
	ent.lastSeen = now
	return int64(len(ent.stamps)), nil
}

func trimBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	return stamps[i:]
}

func (s *MemoryStore) Increment(_ context.Context, key domain.Key, ttl time.Duration) (int64, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.counters[string(key)]
	if !ok || (!ent.expiresAt.IsZero() && !now.Before(ent.expiresAt)) {
		ent = &counterEntry{}
		s.counters[string(key)] = ent
	}
	ent.n++
	ent.lastSeen = now
	if ttl > 0 {
		ent.expiresAt = now.Add(ttl)
	}
	return ent.n, nil
}

func (s *MemoryStore) Append(_ context.Context, key domain.Key, rec domain.RequestRecord, maxLen int, ttl time.Duration) error {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.lists[string(key)]
	if !ok || (!ent.expiresAt.IsZero() && !now.Before(ent.expiresAt)) {
		ent = &listEntry{}
		s.lists[string(key)] = ent
	}
	ent.recs = append(ent.recs, rec)
	if maxLen > 0 && len(ent.recs) > maxLen {
		ent.recs = ent.recs[len(ent.recs)-maxLen:]
	}
	ent.lastSeen = now
	if ttl > 0 {
		ent.expiresAt = now.Add(ttl)
	}
	return nil
}

func (s *MemoryStore) Recent(_ context.Context, key domain.Key, since time.Time) ([]domain.RequestRecord, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.lists[string(key)]
	if !ok {
		return nil, nil
	}
	if !ent.expiresAt.IsZero() && !now.Before(ent.expiresAt) {
		delete(s.lists, string(key))
		return nil, nil
	}
	ent.lastSeen = now

	out := make([]domain.RequestRecord, 0, len(ent.recs))
	for _, rec := range ent.recs {
		if rec.Timestamp.After(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryStore) PutReputation(_ context.Context, key domain.Key, entry domain.ReputationEntry, ttl time.Duration) error {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent := &valueEntry{entry: entry, lastSeen: now}
	if ttl > 0 {
		ent.expiresAt = now.Add(ttl)
	}
	s.values[string(key)] = ent
	return nil
}

func (s *MemoryStore) GetReputation(_ context.Context, key domain.Key) (domain.ReputationEntry, bool, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.values[string(key)]
	if !ok {
		return domain.ReputationEntry{}, false, nil
	}
	if !ent.expiresAt.IsZero() && !now.Before(ent.expiresAt) {
		delete(s.values, string(key))
		return domain.ReputationEntry{}, false, nil
	}
	ent.lastSeen = now
	return ent.entry, true, nil
}

func (s *MemoryStore) DeleteReputation(_ context.Context, key domain.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, string(key))
	return nil
}

// Cleanup remove chaves expiradas e ociosas.
func (s *MemoryStore) Cleanup() {
	now := time.Now()
	idleCutoff := now.Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.windows {
		if ent.lastSeen.Before(idleCutoff) {
			delete(s.windows, k)
		}
	}
	for k, ent := range s.lists {
		if ent.lastSeen.Before(idleCutoff) || (!ent.expiresAt.IsZero() && !now.Before(ent.expiresAt)) {
			delete(s.lists, k)
		}
	}
	for k, ent := range s.counters {
		if ent.lastSeen.Before(idleCutoff) || (!ent.expiresAt.IsZero() && !now.Before(ent.expiresAt)) {
			delete(s.counters, k)
		}
	}
	for k, ent := range s.values {
		if ent.lastSeen.Before(idleCutoff) || (!ent.expiresAt.IsZero() && !now.Before(ent.expiresAt)) {
			delete(s.values, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa chaves inativas
// periodicamente. Pare cancelando o contexto.
func (s *MemoryStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
