package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"security-gateway/middleware/security"
	"security-gateway/middleware/security/domain"
	"security-gateway/middleware/security/infra"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := readConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	level, err := zerolog.ParseLevel(cfg.logLevel)
	if err != nil {
		log.Fatalf("invalid LOG_LEVEL: %v", err)
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		log.Fatalf("invalid UPSTREAM_URL: %v", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error().Err(err).Str("url", r.URL.String()).Msg("proxy error")
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var store domain.Store
	var statsStore domain.StatsStore
	if cfg.redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancelPing := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancelPing()
		if err != nil {
			log.Fatalf("redis ping error: %v", err)
		}

		store = infra.NewRedisStore(
			rdb,
			infra.WithPrefix(cfg.storePrefix),
			infra.WithTimeout(cfg.storeTimeout),
		)

		if cfg.statsEnabled {
			statsStore = infra.NewRedisStatsStore(
				rdb,
				infra.WithStatsPrefix(cfg.statsPrefix),
				infra.WithStatsTTL(cfg.statsTTL),
				infra.WithStatsBucket(cfg.statsBucket),
				infra.WithStatsTrackKeys(cfg.statsTrackKeys),
			)
		}
	} else {
		// sem Redis roda em memória: instância única, sem acordo entre
		// processos
		mem := infra.NewMemoryStore()
		mem.StartJanitor(ctx)
		store = mem
		if cfg.statsEnabled {
			statsStore = infra.NewMemoryStatsStore(infra.WithTrackKeys(cfg.statsTrackKeys))
		}
	}

	opts := security.Options{
		Store:             store,
		Stats:             statsStore,
		KeyHeader:         cfg.keyHeader,
		TrustProxyHeaders: cfg.trustProxyHeaders,
		Rate: security.RateOptions{
			Requests:   cfg.rateRequests,
			Window:     cfg.rateWindow,
			Burst:      cfg.rateBurst,
			RetryAfter: cfg.retryAfter,
		},
		Validation: security.ValidationOptions{
			MaxRequestSize: cfg.maxRequestSize,
			MaxNestedDepth: cfg.maxNestedDepth,
		},
		Threat: security.ThreatOptions{
			AlertsPerSecond: cfg.alertsPerSecond,
		},
		Lockout: security.LockoutOptions{
			MaxFailedAttempts: cfg.maxFailedAttempts,
			LockoutDuration:   cfg.lockoutDuration,
			BlockDuration:     cfg.blockDuration,
		},
		AddRateLimitHeaders: cfg.addHeaders,
		Logger:              logger,
	}

	if cfg.configFile != "" {
		fc, err := security.LoadFileConfig(cfg.configFile)
		if err != nil {
			log.Fatalf("config file error: %v", err)
		}
		opts, err = fc.Apply(opts)
		if err != nil {
			log.Fatalf("config file error: %v", err)
		}
		// precedência: padrão < arquivo < env. O arquivo sobrescreveu os
		// valores vindos do env acima, então env presente volta por cima.
		applyEnvOverrides(&opts)
	}

	h := http.Handler(proxy)
	h = security.ConcurrencyMiddleware(security.ConcurrencyOptions{
		Max:            cfg.concurrencyMax,
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: cfg.concurrencyTimeout,
	})(h)
	h = security.Middleware(opts)(h)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("listen", cfg.listenAddr).Str("upstream", target.String()).Msg("security gateway listening")
	logger.Info().
		Int("requests", opts.Rate.Requests).
		Dur("window", opts.Rate.Window).
		Int("burst", opts.Rate.Burst).
		Bool("trust_proxy_headers", cfg.trustProxyHeaders).
		Msg("rate limit")
	logger.Info().
		Str("redis", cfg.redisAddr).
		Bool("stats", cfg.statsEnabled).
		Int("concurrency_max", cfg.concurrencyMax).
		Msg("backend")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

type config struct {
	listenAddr  string
	upstreamURL string
	configFile  string
	logLevel    string

	redisAddr     string
	redisPassword string
	redisDB       int
	storePrefix   string
	storeTimeout  time.Duration

	rateRequests int
	rateWindow   time.Duration
	rateBurst    int
	retryAfter   time.Duration
	addHeaders   bool

	maxRequestSize int
	maxNestedDepth int

	maxFailedAttempts int
	lockoutDuration   time.Duration
	blockDuration     time.Duration

	alertsPerSecond float64

	keyHeader         string
	trustProxyHeaders bool

	statsEnabled   bool
	statsPrefix    string
	statsTTL       time.Duration
	statsBucket    string
	statsTrackKeys bool

	concurrencyMax     int
	concurrencyTimeout time.Duration
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	cfg.configFile = os.Getenv("CONFIG_FILE")
	cfg.logLevel = getenvDefault("LOG_LEVEL", "info")

	cfg.redisAddr = os.Getenv("REDIS_ADDR")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)
	cfg.storePrefix = getenvDefault("STORE_PREFIX", "secgate")
	cfg.storeTimeout = getenvDurationDefault("STORE_TIMEOUT", 2*time.Second)

	cfg.rateRequests = getenvIntDefault("RATE_REQUESTS", 100)
	cfg.rateWindow = getenvDurationDefault("RATE_WINDOW", 60*time.Second)
	cfg.rateBurst = getenvIntDefault("RATE_BURST", 20)
	cfg.retryAfter = getenvDurationDefault("RETRY_AFTER", 1*time.Second)
	cfg.addHeaders = getenvBoolDefault("ADD_RATELIMIT_HEADERS", false)

	cfg.maxRequestSize = getenvIntDefault("MAX_REQUEST_SIZE", 10*1024*1024)
	cfg.maxNestedDepth = getenvIntDefault("MAX_NESTED_DEPTH", 10)

	cfg.maxFailedAttempts = getenvIntDefault("MAX_FAILED_ATTEMPTS", 5)
	cfg.lockoutDuration = getenvDurationDefault("LOCKOUT_DURATION", 15*time.Minute)
	cfg.blockDuration = getenvDurationDefault("BLOCK_DURATION", 60*time.Minute)

	cfg.alertsPerSecond = getenvFloatDefault("ALERTS_PER_SECOND", 1)

	cfg.keyHeader = os.Getenv("KEY_HEADER")
	cfg.trustProxyHeaders = getenvBoolDefault("TRUST_PROXY_HEADERS", false)

	cfg.statsEnabled = getenvBoolDefault("STATS_ENABLED", false)
	cfg.statsPrefix = getenvDefault("STATS_PREFIX", "secgate:stats")
	cfg.statsTTL = getenvDurationDefault("STATS_TTL", 24*time.Hour)
	cfg.statsBucket = getenvDefault("STATS_BUCKET", "minute")
	cfg.statsTrackKeys = getenvBoolDefault("STATS_TRACK_KEYS", false)

	cfg.concurrencyMax = getenvIntDefault("CONCURRENCY_MAX", 100)
	cfg.concurrencyTimeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", 0)

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.rateRequests <= 0 {
		return config{}, errors.New("RATE_REQUESTS must be > 0")
	}
	if cfg.rateBurst <= 0 {
		return config{}, errors.New("RATE_BURST must be > 0")
	}
	if cfg.rateWindow <= 0 {
		return config{}, errors.New("RATE_WINDOW must be > 0")
	}
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	return cfg, nil
}

// applyEnvOverrides reaplica sobre opts as variáveis de ambiente presentes
// que o arquivo de configuração também sabe definir. Só os campos cobertos
// pelo arquivo precisam da segunda passada.
func applyEnvOverrides(opts *security.Options) {
	overlayEnvInt("RATE_REQUESTS", &opts.Rate.Requests)
	overlayEnvDuration("RATE_WINDOW", &opts.Rate.Window)
	overlayEnvInt("RATE_BURST", &opts.Rate.Burst)
	overlayEnvInt("MAX_REQUEST_SIZE", &opts.Validation.MaxRequestSize)
	overlayEnvInt("MAX_NESTED_DEPTH", &opts.Validation.MaxNestedDepth)
	overlayEnvInt("MAX_FAILED_ATTEMPTS", &opts.Lockout.MaxFailedAttempts)
	overlayEnvDuration("LOCKOUT_DURATION", &opts.Lockout.LockoutDuration)
	overlayEnvDuration("BLOCK_DURATION", &opts.Lockout.BlockDuration)
}

func overlayEnvInt(k string, dst *int) {
	v, ok := os.LookupEnv(k)
	if !ok {
		return
	}
	if i, err := strconv.Atoi(v); err == nil {
		*dst = i
	}
}

func overlayEnvDuration(k string, dst *time.Duration) {
	v, ok := os.LookupEnv(k)
	if !ok {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
