package application

import (
	"context"
	"time"

	"security-gateway/middleware/security/domain"

	"github.com/rs/zerolog"
)

// RateService concentra a regra de admissão por janela deslizante.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma
// decisão. O estado vive no WindowStore compartilhado; este serviço é
// só uma visão recomputável.
type RateService struct {
	Windows domain.WindowStore

	// Requests é o teto de eventos dentro de Window.
	Requests int
	// Burst é o teto mais apertado, verificado contra a MESMA janela.
	// O duplo-check sobre uma única janela é o comportamento herdado;
	// burst de sub-janela verdadeiro exigiria uma segunda janela menor.
	Burst      int
	Window     time.Duration
	RetryAfter time.Duration

	Log zerolog.Logger
}

// Decide desliza a janela da chave e aplica a regra de admissão.
//
// Falha de store é fail open: a disponibilidade do serviço protegido
// vale mais que a rigidez do limite. A decisão sai permitida com o
// remaining otimista e um warn no log.
func (s RateService) Decide(ctx context.Context, key domain.Key) domain.RateDecision {
	// remaining conta contra o teto efetivo (o mais apertado dos dois),
	// senão um burst menor que Requests reportaria vagas que não existem
	limit := s.Requests
	if s.Burst > 0 && s.Burst < limit {
		limit = s.Burst
	}

	if s.Windows == nil {
		return domain.RateDecision{Allowed: true, Remaining: limit}
	}

	retryAfter := s.RetryAfter
	if retryAfter <= 0 {
		retryAfter = 1 * time.Second
	}

	n, err := s.Windows.Slide(ctx, key, s.Window)
	if err != nil {
		s.Log.Warn().Err(err).Str("key", string(key)).Msg("rate limit indisponível, admitindo (fail open)")
		return domain.RateDecision{Allowed: true, Remaining: limit}
	}

	remaining := limit - int(n)
	if remaining < 0 {
		remaining = 0
	}

	if n > int64(s.Burst) || n > int64(s.Requests) {
		return domain.RateDecision{Allowed: false, Remaining: remaining, RetryAfter: retryAfter}
	}
	return domain.RateDecision{Allowed: true, Remaining: remaining}
}
