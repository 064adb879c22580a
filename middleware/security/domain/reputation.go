package domain

import (
	"context"
	"time"
)

// ReputationState classifica um cliente.
type ReputationState string

const (
	StateClean      ReputationState = "clean"
	StateSuspicious ReputationState = "suspicious"
	StateBlocked    ReputationState = "blocked"
)

// ReputationEntry é o registro persistido por cliente.
//
// Ciclo de vida: criado no primeiro evento suspeito/bloqueante, mutado em
// reincidências e revertido a clean de forma preguiçosa quando a expiração
// é observada numa leitura. Não há varredura em background.
type ReputationEntry struct {
	State     ReputationState `json:"state"`
	Reason    string          `json:"reason"`
	Count     int             `json:"count"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Expired informa se a entrada já deveria ter sido revertida.
func (e ReputationEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// ReputationStore persiste entradas de reputação com TTL.
type ReputationStore interface {
	PutReputation(ctx context.Context, key Key, entry ReputationEntry, ttl time.Duration) error
	// GetReputation devolve found=false para chave ausente ou expirada no store.
	GetReputation(ctx context.Context, key Key) (entry ReputationEntry, found bool, err error)
	DeleteReputation(ctx context.Context, key Key) error
}

// CounterStore incrementa contadores com TTL (ex: tentativas falhas).
type CounterStore interface {
	// Increment soma 1 à chave, renova o TTL e devolve o valor resultante.
	Increment(ctx context.Context, key Key, ttl time.Duration) (int64, error)
}

// Store agrega todos os contratos de persistência do gateway.
//
// As implementações de infra (Redis, memória) satisfazem o conjunto todo;
// os serviços dependem apenas da fatia que usam.
type Store interface {
	WindowStore
	HistoryStore
	CounterStore
	ReputationStore
}
