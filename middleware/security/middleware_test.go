package security

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"security-gateway/middleware/security/domain"
	"security-gateway/middleware/security/infra"

	"github.com/rs/zerolog"
)

func okHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			*calls++
		}
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
}

func newRequest(method, target, body string) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("User-Agent", "cliente-teste/1.0")
	return r
}

type rejectBody struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

func decodeReject(t *testing.T, w *httptest.ResponseRecorder) rejectBody {
	t.Helper()
	var rb rejectBody
	if err := json.Unmarshal(w.Body.Bytes(), &rb); err != nil {
		t.Fatalf("invalid reject body %q: %v", w.Body.String(), err)
	}
	return rb
}

func TestMiddleware_SlidingWindowAllowsThenRejects(t *testing.T) {
	calls := 0
	h := Middleware(Options{
		Store: infra.NewMemoryStore(),
		Rate: RateOptions{
			Requests: 10,
			Window:   60 * time.Second,
			Burst:    5,
		},
		AddRateLimitHeaders: true,
		Logger:              zerolog.Nop(),
	})(okHandler(&calls))

	// burst=5: cinco passam
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, newRequest(http.MethodGet, "http://example.com/dados", ""))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}

	// a sexta estoura o burst
	w := httptest.NewRecorder()
	h.ServeHTTP(w, newRequest(http.MethodGet, "http://example.com/dados", ""))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on sixth request, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("expected Retry-After=1, got %q", got)
	}
	rb := decodeReject(t, w)
	if rb.Error != "rate_limit_exceeded" {
		t.Fatalf("unexpected error code %q", rb.Error)
	}
	if rem, ok := rb.Details["remaining"].(float64); !ok || rem != 0 {
		t.Fatalf("expected details.remaining=0, got %v", rb.Details)
	}

	if calls != 5 {
		t.Fatalf("expected handler called 5 times, got %d", calls)
	}
}

func TestMiddleware_RateLimitIsPerPath(t *testing.T) {
	h := Middleware(Options{
		Store:  infra.NewMemoryStore(),
		Rate:   RateOptions{Requests: 1, Window: 60 * time.Second, Burst: 1},
		Logger: zerolog.Nop(),
	})(okHandler(nil))

	w1 := httptest.NewRecorder()
	h.ServeHTTP(w1, newRequest(http.MethodGet, "http://example.com/dados", ""))
	if w1.Code != http.StatusOK {
		t.Fatalf("expected 200 on first path, got %d", w1.Code)
	}

	// mesmo cliente, outra rota: janela própria
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, newRequest(http.MethodGet, "http://example.com/resumo", ""))
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200 on second path, got %d", w2.Code)
	}
}

func TestMiddleware_SecurityHeadersAndRequestID(t *testing.T) {
	h := Middleware(Options{
		Store:  infra.NewMemoryStore(),
		Logger: zerolog.Nop(),
	})(okHandler(nil))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, newRequest(http.MethodGet, "http://example.com/dados", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	headers := map[string]string{
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"X-Frame-Options":           "DENY",
		"X-Content-Type-Options":    "nosniff",
		"Referrer-Policy":           "strict-origin-when-cross-origin",
		"X-XSS-Protection":          "1; mode=block",
	}
	for name, want := range headers {
		if got := w.Header().Get(name); got != want {
			t.Fatalf("header %s: expected %q, got %q", name, want, got)
		}
	}
	if w.Header().Get("Content-Security-Policy") == "" {
		t.Fatalf("expected Content-Security-Policy to be set")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID to be set")
	}
}

func TestMiddleware_ValidationRejectsScriptBody(t *testing.T) {
	calls := 0
	h := Middleware(Options{
		Store:  infra.NewMemoryStore(),
		Logger: zerolog.Nop(),
	})(okHandler(&calls))

	r := newRequest(http.MethodPost, "http://example.com/dados", `{"comentario":"<script>alert(1)</script>"}`)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if rb := decodeReject(t, w); rb.Error != "validation_failed" {
		t.Fatalf("unexpected error code %q", rb.Error)
	}
	if calls != 0 {
		t.Fatalf("expected handler not called, got %d", calls)
	}
}

func TestMiddleware_ValidationNestedDepthBoundary(t *testing.T) {
	deep := `{"a":{"b":{"c":{"d":{"e":1}}}}}`

	strict := Middleware(Options{
		Store:      infra.NewMemoryStore(),
		Validation: ValidationOptions{MaxNestedDepth: 3},
		Logger:     zerolog.Nop(),
	})(okHandler(nil))

	r := newRequest(http.MethodPost, "http://example.com/dados", deep)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	strict.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 with depth limit 3, got %d", w.Code)
	}

	loose := Middleware(Options{
		Store:      infra.NewMemoryStore(),
		Validation: ValidationOptions{MaxNestedDepth: 5},
		Logger:     zerolog.Nop(),
	})(okHandler(nil))

	r = newRequest(http.MethodPost, "http://example.com/dados", deep)
	r.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	loose.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with depth exactly at the limit, got %d", w.Code)
	}
}

func TestMiddleware_CriticalThreatBlocksClient(t *testing.T) {
	h := Middleware(Options{
		Store:  infra.NewMemoryStore(),
		Logger: zerolog.Nop(),
	})(okHandler(nil))

	// injeção de comando na URL: rejeita e bloqueia o cliente
	w := httptest.NewRecorder()
	h.ServeHTTP(w, newRequest(http.MethodGet, "http://example.com/busca?q=%3B+EXEC+xp_cmdshell", ""))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for injection, got %d", w.Code)
	}
	if rb := decodeReject(t, w); rb.Message != "URL suspeita" {
		t.Fatalf("unexpected message %q", rb.Message)
	}

	// requisição limpa do mesmo cliente continua barrada
	w = httptest.NewRecorder()
	h.ServeHTTP(w, newRequest(http.MethodGet, "http://example.com/dados", ""))
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for blocked client, got %d", w.Code)
	}
	if rb := decodeReject(t, w); rb.Message != "acesso negado" {
		t.Fatalf("unexpected message %q", rb.Message)
	}

	// outro cliente não é afetado
	r := newRequest(http.MethodGet, "http://example.com/dados", "")
	r.RemoteAddr = "10.0.0.2:1234"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for another client, got %d", w.Code)
	}
}

func TestMiddleware_MissingUserAgentRejected(t *testing.T) {
	h := Middleware(Options{
		Store:  infra.NewMemoryStore(),
		Logger: zerolog.Nop(),
	})(okHandler(nil))

	r := newRequest(http.MethodGet, "http://example.com/dados", "")
	r.Header.Del("User-Agent")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing user agent, got %d", w.Code)
	}
	if rb := decodeReject(t, w); rb.Message != "cabeçalhos suspeitos" {
		t.Fatalf("unexpected message %q", rb.Message)
	}
}

func TestMiddleware_FailedAttemptsLockoutAndRecovery(t *testing.T) {
	h := Middleware(Options{
		Store: infra.NewMemoryStore(),
		Rate:  RateOptions{Requests: 1, Window: 40 * time.Millisecond, Burst: 1},
		Lockout: LockoutOptions{
			MaxFailedAttempts: 2,
			LockoutDuration:   50 * time.Millisecond,
		},
		Logger: zerolog.Nop(),
	})(okHandler(nil))

	serve := func() int {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, newRequest(http.MethodGet, "http://example.com/dados", ""))
		return w.Code
	}

	if code := serve(); code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", code)
	}
	if code := serve(); code != http.StatusTooManyRequests {
		t.Fatalf("expected second request limited, got %d", code)
	}
	// segunda falha atinge o teto e bloqueia
	if code := serve(); code != http.StatusTooManyRequests {
		t.Fatalf("expected third request limited, got %d", code)
	}
	if code := serve(); code != http.StatusForbidden {
		t.Fatalf("expected fourth request blocked, got %d", code)
	}

	// bloqueio e janela expiram: cliente volta a passar
	time.Sleep(100 * time.Millisecond)
	if code := serve(); code != http.StatusOK {
		t.Fatalf("expected recovery after lockout expiry, got %d", code)
	}
}

func TestMiddleware_PanicReturns500(t *testing.T) {
	h := Middleware(Options{
		Store:  infra.NewMemoryStore(),
		Logger: zerolog.Nop(),
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, newRequest(http.MethodGet, "http://example.com/dados", ""))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	rb := decodeReject(t, w)
	if rb.Error != "internal_error" {
		t.Fatalf("unexpected error code %q", rb.Error)
	}
	// a causa do panic não vaza na resposta
	if strings.Contains(w.Body.String(), "boom") {
		t.Fatalf("panic detail leaked in response: %s", w.Body.String())
	}
}

func TestMiddleware_RecordsStatsPerStage(t *testing.T) {
	stats := infra.NewMemoryStatsStore()
	h := Middleware(Options{
		Store:  infra.NewMemoryStore(),
		Stats:  stats,
		Rate:   RateOptions{Requests: 1, Window: 60 * time.Second, Burst: 1},
		Logger: zerolog.Nop(),
	})(okHandler(nil))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, newRequest(http.MethodGet, "http://example.com/dados", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, newRequest(http.MethodGet, "http://example.com/dados", ""))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}

	byStage := stats.ByStage()
	if got := byStage[domain.StageHandler].Allowed; got != 1 {
		t.Fatalf("expected 1 allowed at handler stage, got %d", got)
	}
	if got := byStage[domain.StageRateLimit].Denied; got != 1 {
		t.Fatalf("expected 1 denied at rate limit stage, got %d", got)
	}
	total := stats.Total()
	if total.Allowed != 1 || total.Denied != 1 {
		t.Fatalf("unexpected totals %+v", total)
	}
}

func TestMiddleware_BodyRestoredForHandler(t *testing.T) {
	var seen string
	h := Middleware(Options{
		Store:  infra.NewMemoryStore(),
		Logger: zerolog.Nop(),
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
		w.WriteHeader(http.StatusOK)
	}))

	payload := `{"nome":"maria"}`
	r := newRequest(http.MethodPost, "http://example.com/dados", payload)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if seen != payload {
		t.Fatalf("expected handler to see the original body, got %q", seen)
	}
}
