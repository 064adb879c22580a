package domain

import (
	"context"
	"time"
)

// Stage identifica o estágio do pipeline que decidiu a requisição.
type Stage string

const (
	StageReputation Stage = "reputation"
	StageRateLimit  Stage = "ratelimit"
	StageValidation Stage = "validation"
	StageThreat     Stage = "threat"
	StageHandler    Stage = "handler"
)

// StatsEvent representa uma decisão do gateway.
//
// Ele é agnóstico de HTTP: Method/Path são strings genéricas. Cuidado com
// cardinalidade ao persistir Key/Path sem controle em uma base como Redis.
type StatsEvent struct {
	Key     Key
	Stage   Stage
	Allowed bool

	Method string
	Path   string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas de decisão.
//
// O pipeline trata erro como best-effort: um Record que falha nunca afeta
// a requisição.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
