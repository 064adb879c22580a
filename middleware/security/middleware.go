package security

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"security-gateway/middleware/security/application"
	"security-gateway/middleware/security/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RateOptions configura a admissão por janela deslizante.
type RateOptions struct {
	// Requests é o teto de requisições dentro de Window.
	Requests int
	Window   time.Duration
	// Burst é o teto mais apertado, checado contra a mesma janela.
	Burst      int
	RetryAfter time.Duration
}

// ValidationOptions configura o validador de payload.
type ValidationOptions struct {
	MaxRequestSize int
	MaxNestedDepth int
}

// ThreatOptions configura a análise de ameaças.
type ThreatOptions struct {
	// Patterns vazio usa domain.DefaultThreatPatterns().
	Patterns        []domain.ThreatPattern
	Thresholds      domain.AnomalyThresholds
	TrustedReferers []string
	HistoryLimit    int
	HistoryTTL      time.Duration
	// AlertsPerSecond amortece o log de achados action=alert.
	// 0 desliga o amortecimento.
	AlertsPerSecond float64
}

// LockoutOptions configura a máquina de reputação.
type LockoutOptions struct {
	MaxFailedAttempts int
	LockoutDuration   time.Duration
	BlockDuration     time.Duration
}

type Options struct {
	// Store é o store compartilhado (janelas, história, contadores,
	// reputação). nil desativa os estágios que dependem dele.
	Store domain.Store
	// Stats é best-effort: erro nunca afeta a requisição.
	Stats domain.StatsStore

	KeyFn             KeyFunc
	KeyHeader         string
	TrustProxyHeaders bool

	Rate       RateOptions
	Validation ValidationOptions
	Threat     ThreatOptions
	Lockout    LockoutOptions
	Headers    HeaderOptions

	AddRateLimitHeaders bool

	Logger zerolog.Logger
}

func withDefaults(opts Options) Options {
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustProxyHeaders)
	}
	if opts.Rate.Requests <= 0 {
		opts.Rate.Requests = 100
	}
	if opts.Rate.Window <= 0 {
		opts.Rate.Window = 60 * time.Second
	}
	if opts.Rate.Burst <= 0 {
		opts.Rate.Burst = 20
	}
	if opts.Rate.RetryAfter <= 0 {
		opts.Rate.RetryAfter = 1 * time.Second
	}
	if opts.Validation.MaxRequestSize <= 0 {
		opts.Validation.MaxRequestSize = 10 * 1024 * 1024
	}
	if opts.Validation.MaxNestedDepth <= 0 {
		opts.Validation.MaxNestedDepth = 10
	}
	if len(opts.Threat.Patterns) == 0 {
		opts.Threat.Patterns = domain.DefaultThreatPatterns()
	}
	if opts.Threat.Thresholds == (domain.AnomalyThresholds{}) {
		opts.Threat.Thresholds = domain.DefaultAnomalyThresholds()
	}
	if len(opts.Threat.TrustedReferers) == 0 {
		opts.Threat.TrustedReferers = []string{"localhost", "127.0.0.1"}
	}
	return opts
}

// Middleware monta o pipeline de segurança na ordem fixa documentada no
// pacote. As decisões rejeitadas viram respostas JSON tersas; o detalhe
// completo vai só para o log.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	opts = withDefaults(opts)

	rateSvc := application.RateService{
		Windows:    opts.Store,
		Requests:   opts.Rate.Requests,
		Burst:      opts.Rate.Burst,
		Window:     opts.Rate.Window,
		RetryAfter: opts.Rate.RetryAfter,
		Log:        opts.Logger,
	}
	validator := application.Validator{
		MaxRequestSize: opts.Validation.MaxRequestSize,
		MaxNestedDepth: opts.Validation.MaxNestedDepth,
	}
	var alerts *rate.Limiter
	if opts.Threat.AlertsPerSecond > 0 {
		alerts = rate.NewLimiter(rate.Limit(opts.Threat.AlertsPerSecond), 1)
	}
	threatSvc := &application.ThreatService{
		Patterns:        opts.Threat.Patterns,
		Thresholds:      opts.Threat.Thresholds,
		History:         opts.Store,
		HistoryLimit:    opts.Threat.HistoryLimit,
		HistoryTTL:      opts.Threat.HistoryTTL,
		TrustedReferers: opts.Threat.TrustedReferers,
		Alerts:          alerts,
		Log:             opts.Logger,
	}
	repSvc := application.NewReputationService(opts.Store, opts.Store, application.ReputationOptions{
		MaxFailedAttempts: opts.Lockout.MaxFailedAttempts,
		LockoutDuration:   opts.Lockout.LockoutDuration,
		BlockDuration:     opts.Lockout.BlockDuration,
		Log:               opts.Logger,
	})

	recordStats := func(ctx context.Context, r *http.Request, client domain.Key, stage domain.Stage, allowed bool) {
		if opts.Stats == nil {
			return
		}
		_ = opts.Stats.Record(ctx, domain.StatsEvent{
			Key:     client,
			Stage:   stage,
			Allowed: allowed,
			Method:  r.Method,
			Path:    r.URL.Path,
			At:      time.Now(),
		})
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := uuid.NewString()
			log := opts.Logger.With().Str("request_id", reqID).Logger()

			sw := &statusWriter{ResponseWriter: w}
			sw.Header().Set("X-Request-ID", reqID)

			defer func() {
				if rec := recover(); rec != nil {
					log.Error().
						Interface("panic", rec).
						Str("method", r.Method).
						Str("url", r.URL.RequestURI()).
						Msg("erro não tratado no pipeline")
					if !sw.wroteHeader {
						writeReject(sw, http.StatusInternalServerError, "internal_error", "erro interno do servidor", nil)
					}
				}
			}()

			ctx := r.Context()
			client := domain.Key(opts.KeyFn(r))

			// 2) reputação: curto-circuito para bloqueados
			if repSvc.IsBlocked(ctx, client) {
				recordStats(ctx, r, client, domain.StageReputation, false)
				log.Warn().Str("client", string(client)).Msg("requisição de cliente bloqueado")
				writeReject(sw, http.StatusForbidden, "forbidden", "acesso negado", nil)
				return
			}

			// 3) admissão por janela deslizante, chave (cliente, rota)
			rlKey := domain.Key("rate_limit:" + string(client) + ":" + r.URL.Path)
			dec := rateSvc.Decide(ctx, rlKey)
			if opts.AddRateLimitHeaders {
				sw.Header().Set("X-RateLimit-Key", string(client))
				sw.Header().Set("X-RateLimit-Remaining", formatInt(dec.Remaining))
			}
			if !dec.Allowed {
				repSvc.RecordFailedAttempt(ctx, client)
				recordStats(ctx, r, client, domain.StageRateLimit, false)
				sw.Header().Set("Retry-After", formatInt(int(dec.RetryAfter.Seconds())))
				log.Warn().Str("client", string(client)).Str("path", r.URL.Path).Msg("limite de requisições excedido")
				writeReject(sw, http.StatusTooManyRequests, "rate_limit_exceeded", "limite de requisições excedido", map[string]any{
					"remaining": dec.Remaining,
				})
				return
			}

			// snapshot do corpo: lido uma vez, restaurado para o handler
			body, err := snapshotBody(r, opts.Validation.MaxRequestSize)
			if err != nil {
				recordStats(ctx, r, client, domain.StageValidation, false)
				log.Warn().Err(err).Str("client", string(client)).Msg("falha lendo corpo da requisição")
				writeReject(sw, http.StatusBadRequest, "validation_failed", "dados de entrada inválidos", nil)
				return
			}

			// 4) validação estrutural/padrões do payload
			if len(body) > 0 && !validator.Validate(body) {
				recordStats(ctx, r, client, domain.StageValidation, false)
				log.Warn().Str("client", string(client)).Int("size", len(body)).Msg("payload rejeitado pela validação")
				writeReject(sw, http.StatusBadRequest, "validation_failed", "dados de entrada inválidos", nil)
				return
			}

			// 5) análise de ameaças e anomalias
			profile := profileFromRequest(r, body)
			analysis := threatSvc.Analyze(ctx, profile, client)
			if !analysis.Safe {
				repSvc.MarkSuspicious(ctx, client, analysis.Message)
				if analysis.HasCritical() {
					repSvc.Block(ctx, client, "critical_threat_detected", 0)
				}
				recordStats(ctx, r, client, domain.StageThreat, false)
				threatSvc.RecordRequest(ctx, client, requestRecord(r, body, http.StatusForbidden, true))
				log.Warn().
					Str("client", string(client)).
					Str("message", analysis.Message).
					Int("findings", len(analysis.Findings)).
					Bool("critical", analysis.HasCritical()).
					Msg("ameaça detectada")
				writeReject(sw, http.StatusForbidden, "forbidden", analysis.Message, nil)
				return
			}

			// 7) cabeçalhos de segurança antes do handler escrever
			applySecurityHeaders(sw.Header(), opts.Headers)

			// 6) handler downstream
			next.ServeHTTP(sw, r)

			// 8) história com o status real, 9) stats e log
			threatSvc.RecordRequest(ctx, client, requestRecord(r, body, sw.Status(), false))
			recordStats(ctx, r, client, domain.StageHandler, true)
			logOutcome(log, r, client, sw.Status(), time.Since(start))
		})
	}
}

func requestRecord(r *http.Request, body []byte, status int, suspicious bool) domain.RequestRecord {
	return domain.RequestRecord{
		Timestamp:  time.Now(),
		Method:     r.Method,
		URL:        r.URL.RequestURI(),
		StatusCode: status,
		Size:       int64(len(body)),
		Suspicious: suspicious,
		UserAgent:  r.Header.Get("User-Agent"),
	}
}

func profileFromRequest(r *http.Request, body []byte) domain.RequestProfile {
	ct := r.Header.Get("Content-Type")
	return domain.RequestProfile{
		Method:      r.Method,
		URL:         r.URL.RequestURI(),
		Host:        r.Host,
		Query:       r.URL.RawQuery,
		UserAgent:   r.Header.Get("User-Agent"),
		Referer:     r.Header.Get("Referer"),
		ContentType: ct,
		Body:        body,
		Multipart:   strings.Contains(ct, "multipart/form-data"),
	}
}

// snapshotBody lê o corpo uma única vez (limitado ao tamanho máximo + 1,
// para o validador enxergar o estouro) e o restaura para o handler.
func snapshotBody(r *http.Request, maxSize int) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, int64(maxSize)+1))
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// writeReject responde uma rejeição JSON tersa: nunca ecoa a regra casada
// com detalhe suficiente para ajudar evasão.
func writeReject(w http.ResponseWriter, status int, errCode, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	payload := map[string]any{
		"error":   errCode,
		"message": message,
	}
	if details != nil {
		payload["details"] = details
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func logOutcome(log zerolog.Logger, r *http.Request, client domain.Key, status int, dur time.Duration) {
	ev := log.Debug()
	switch {
	case status >= 400:
		ev = log.Warn()
	case dur > 1*time.Second:
		ev = log.Info()
	}
	ev.Str("method", r.Method).
		Str("url", r.URL.RequestURI()).
		Str("client", string(client)).
		Int("status", status).
		Dur("duration", dur).
		Str("user_agent", r.Header.Get("User-Agent")).
		Msg("requisição processada")
}

// statusWriter captura o status escrito pelo handler para história/log.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.status = http.StatusOK
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Status() int {
	if !w.wroteHeader {
		return http.StatusOK
	}
	return w.status
}
