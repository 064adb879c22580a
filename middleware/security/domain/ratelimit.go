package domain

import (
	"context"
	"time"
)

// Key identifica o dono de um estado por cliente (ex: IP, API key).
type Key string

// WindowStore mantém janelas deslizantes de eventos por chave.
//
// A implementação de produção fica em um store compartilhado (Redis) para
// que várias instâncias do gateway concordem sobre a mesma janela.
type WindowStore interface {
	// Slide remove da janela os eventos mais antigos que `window`, registra
	// um evento "agora" e devolve a cardinalidade resultante.
	//
	// A sequência trim+append+count precisa ser atômica no store: duas
	// requisições quase simultâneas não podem observar ambas n-1 e passar
	// quando só resta uma vaga.
	Slide(ctx context.Context, key Key, window time.Duration) (int64, error)
}

// RateDecision é o resultado de uma verificação de admissão.
type RateDecision struct {
	Allowed   bool
	Remaining int
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
}
