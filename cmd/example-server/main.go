package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"security-gateway/middleware/security"
	"security-gateway/middleware/security/infra"

	"github.com/rs/zerolog"
)

func main() {
	// Exemplo: injetando o gateway diretamente no seu webserver (sem
	// proxy), com estado em memória
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := infra.NewMemoryStore()
	store.StartJanitor(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	h := http.Handler(mux)
	h = security.ConcurrencyMiddleware(security.ConcurrencyOptions{Max: 50})(h)
	h = security.Middleware(security.Options{
		Store: store,
		Stats: infra.NewMemoryStatsStore(),
		Rate: security.RateOptions{
			Requests: 100,
			Window:   60 * time.Second,
			Burst:    20,
		},
		TrustProxyHeaders:   true,
		AddRateLimitHeaders: true,
		Logger:              logger,
	})(h)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("example server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
