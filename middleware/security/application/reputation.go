package application

import (
	"context"
	"sync"
	"time"

	"security-gateway/middleware/security/domain"

	"github.com/rs/zerolog"
)

// ReputationOptions configura a máquina de estados de reputação.
type ReputationOptions struct {
	// MaxFailedAttempts de rate limit dentro de LockoutDuration levam o
	// cliente a Blocked.
	MaxFailedAttempts int
	LockoutDuration   time.Duration
	// BlockDuration é o padrão para bloqueio imediato (achado critical).
	BlockDuration time.Duration
	// SuspiciousTTL é renovado a cada marcação suspeita.
	SuspiciousTTL time.Duration

	Log zerolog.Logger
}

// ReputationService mantém a máquina clean → suspicious → blocked por
// cliente, com reversão preguiçosa a clean na expiração.
//
// O store compartilhado é autoritativo; o cache local só espelha entradas
// já lidas para cortar latência, e tolera staleness de até um ciclo de
// TTL. O lock do cache nunca é segurado durante uma ida ao store.
type ReputationService struct {
	store    domain.ReputationStore
	counters domain.CounterStore
	opts     ReputationOptions

	mu    sync.Mutex
	cache map[domain.Key]domain.ReputationEntry
}

func NewReputationService(store domain.ReputationStore, counters domain.CounterStore, opts ReputationOptions) *ReputationService {
	if opts.MaxFailedAttempts <= 0 {
		opts.MaxFailedAttempts = 5
	}
	if opts.LockoutDuration <= 0 {
		opts.LockoutDuration = 15 * time.Minute
	}
	if opts.BlockDuration <= 0 {
		opts.BlockDuration = 60 * time.Minute
	}
	if opts.SuspiciousTTL <= 0 {
		opts.SuspiciousTTL = time.Hour
	}
	return &ReputationService{
		store:    store,
		counters: counters,
		opts:     opts,
		cache:    make(map[domain.Key]domain.ReputationEntry),
	}
}

func blockedKey(client domain.Key) domain.Key {
	return domain.Key("blocked_ip:" + string(client))
}

func suspiciousKey(client domain.Key) domain.Key {
	return domain.Key("suspicious_ip:" + string(client))
}

func failedKey(client domain.Key) domain.Key {
	return domain.Key("failed_attempts:" + string(client))
}

// IsBlocked responde se o cliente está bloqueado agora.
//
// Entrada expirada é apagada na própria leitura (eviction preguiçosa, sem
// sweeper). Store indisponível responde "não bloqueado": fail open.
func (s *ReputationService) IsBlocked(ctx context.Context, client domain.Key) bool {
	key := blockedKey(client)
	now := time.Now()

	s.mu.Lock()
	cached, ok := s.cache[key]
	s.mu.Unlock()

	if ok {
		if !cached.Expired(now) {
			return true
		}
		// cache expirado só derruba o espelho local: outra instância pode
		// ter renovado o bloqueio no store, e essa entrada é autoritativa
		s.mu.Lock()
		delete(s.cache, key)
		s.mu.Unlock()
	}

	if s.store == nil {
		return false
	}

	entry, found, err := s.store.GetReputation(ctx, key)
	if err != nil {
		s.opts.Log.Warn().Err(err).Str("client", string(client)).Msg("reputação indisponível, tratando como não bloqueado")
		return false
	}
	if !found {
		return false
	}
	if entry.Expired(now) {
		s.evict(ctx, key)
		return false
	}

	s.mu.Lock()
	s.cache[key] = entry
	s.mu.Unlock()
	return true
}

func (s *ReputationService) evict(ctx context.Context, key domain.Key) {
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()

	if s.store != nil {
		_ = s.store.DeleteReputation(ctx, key)
	}
}

// MarkSuspicious cria ou reincide a entrada suspeita do cliente,
// renovando o TTL a cada marcação.
func (s *ReputationService) MarkSuspicious(ctx context.Context, client domain.Key, reason string) {
	if s.store == nil {
		return
	}

	key := suspiciousKey(client)
	entry := domain.ReputationEntry{
		State:     domain.StateSuspicious,
		Reason:    reason,
		Count:     1,
		ExpiresAt: time.Now().Add(s.opts.SuspiciousTTL),
	}

	if existing, found, err := s.store.GetReputation(ctx, key); err == nil && found && !existing.Expired(time.Now()) {
		entry.Count = existing.Count + 1
	}

	if err := s.store.PutReputation(ctx, key, entry, s.opts.SuspiciousTTL); err != nil {
		s.opts.Log.Warn().Err(err).Str("client", string(client)).Msg("falha ao marcar cliente suspeito")
		return
	}

	s.mu.Lock()
	s.cache[key] = entry
	s.mu.Unlock()

	s.opts.Log.Info().
		Str("client", string(client)).
		Str("reason", reason).
		Int("count", entry.Count).
		Msg("cliente marcado suspeito")
}

// RecordFailedAttempt incrementa o contador de falhas do cliente e
// transiciona para Blocked ao atingir o teto dentro do lockout.
func (s *ReputationService) RecordFailedAttempt(ctx context.Context, client domain.Key) {
	if s.counters == nil {
		return
	}

	n, err := s.counters.Increment(ctx, failedKey(client), s.opts.LockoutDuration)
	if err != nil {
		s.opts.Log.Warn().Err(err).Str("client", string(client)).Msg("falha ao contar tentativa")
		return
	}

	if n >= int64(s.opts.MaxFailedAttempts) {
		s.Block(ctx, client, "rate_limit_exceeded", s.opts.LockoutDuration)
	}
}

// Block bloqueia o cliente imediatamente, fora do caminho de contagem de
// falhas. duration <= 0 usa o padrão configurado.
func (s *ReputationService) Block(ctx context.Context, client domain.Key, reason string, duration time.Duration) {
	if duration <= 0 {
		duration = s.opts.BlockDuration
	}

	key := blockedKey(client)
	entry := domain.ReputationEntry{
		State:     domain.StateBlocked,
		Reason:    reason,
		ExpiresAt: time.Now().Add(duration),
	}

	if s.store != nil {
		if err := s.store.PutReputation(ctx, key, entry, duration); err != nil {
			s.opts.Log.Warn().Err(err).Str("client", string(client)).Msg("falha ao persistir bloqueio")
		}
	}

	s.mu.Lock()
	s.cache[key] = entry
	s.mu.Unlock()

	s.opts.Log.Warn().
		Str("client", string(client)).
		Str("reason", reason).
		Dur("duration", duration).
		Msg("cliente bloqueado")
}
