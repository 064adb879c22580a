package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"security-gateway/middleware/security/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStore implementa os contratos de persistência do domain sobre um
// Redis compartilhado. É a fonte de verdade quando há mais de uma
// instância do gateway: o que fica local é só cache recomputável.
//
// Toda chamada é uma ida à rede limitada por `timeout`; quem decide o que
// fazer com o erro é o serviço chamador (fail open, pular estágio, etc).
type RedisStore struct {
	rdb *redis.Client

	prefix  string
	timeout time.Duration
}

var (
	_ domain.WindowStore     = (*RedisStore)(nil)
	_ domain.HistoryStore    = (*RedisStore)(nil)
	_ domain.CounterStore    = (*RedisStore)(nil)
	_ domain.ReputationStore = (*RedisStore)(nil)
)

type RedisStoreOption func(*RedisStore)

func WithPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

// WithTimeout limita cada ida ao Redis. O padrão é 2s.
func WithTimeout(d time.Duration) RedisStoreOption {
	return func(s *RedisStore) { s.timeout = d }
}

func NewRedisStore(rdb *redis.Client, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		rdb:     rdb,
		timeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(k domain.Key) string {
	if s.prefix == "" {
		return string(k)
	}
	return s.prefix + ":" + string(k)
}

func (s *RedisStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Slide executa trim+append+count como um único round trip (pipeline
// transacional), evitando que duas requisições quase simultâneas observem
// a mesma cardinalidade.
//
// Score em milissegundos (cabe em float64 sem perda), member em
// nanossegundos para unicidade. Colisão de member no mesmo nanossegundo
// subconta em 1; o contador é aproximado por projeto.
func (s *RedisStore) Slide(ctx context.Context, key domain.Key, window time.Duration) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	now := time.Now()
	cutoff := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)
	k := s.key(key)

	pipe := s.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "0", cutoff)
	pipe.ZAdd(ctx, k, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	card := pipe.ZCard(ctx, k)
	pipe.Expire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: slide %s: %v", domain.ErrStoreUnavailable, k, err)
	}
	return card.Val(), nil
}

func (s *RedisStore) Increment(ctx context.Context, key domain.Key, ttl time.Duration) (int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	k := s.key(key)
	pipe := s.rdb.TxPipeline()
	counter := pipe.Incr(ctx, k)
	if ttl > 0 {
		pipe.Expire(ctx, k, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: incr %s: %v", domain.ErrStoreUnavailable, k, err)
	}
	return counter.Val(), nil
}

// Append empurra o registro no fim da lista e apara pelo início: a
// história é uma fila FIFO limitada, as entradas mais antigas caem
// silenciosamente ao estourar maxLen.
func (s *RedisStore) Append(ctx context.Context, key domain.Key, rec domain.RequestRecord, maxLen int, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	k := s.key(key)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, k, data)
	if maxLen > 0 {
		pipe.LTrim(ctx, k, int64(-maxLen), -1)
	}
	if ttl > 0 {
		pipe.Expire(ctx, k, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: append %s: %v", domain.ErrStoreUnavailable, k, err)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, key domain.Key, since time.Time) ([]domain.RequestRecord, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	k := s.key(key)
	vals, err := s.rdb.LRange(ctx, k, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: recent %s: %v", domain.ErrStoreUnavailable, k, err)
	}

	out := make([]domain.RequestRecord, 0, len(vals))
	for _, v := range vals {
		var rec domain.RequestRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			// registro corrompido não derruba a leitura inteira
			continue
		}
		if rec.Timestamp.After(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *RedisStore) PutReputation(ctx context.Context, key domain.Key, entry domain.ReputationEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal reputation: %w", err)
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	k := s.key(key)
	if err := s.rdb.Set(ctx, k, data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: put %s: %v", domain.ErrStoreUnavailable, k, err)
	}
	return nil
}

func (s *RedisStore) GetReputation(ctx context.Context, key domain.Key) (domain.ReputationEntry, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	k := s.key(key)
	data, err := s.rdb.Get(ctx, k).Bytes()
	if err == redis.Nil {
		return domain.ReputationEntry{}, false, nil
	}
	if err != nil {
		return domain.ReputationEntry{}, false, fmt.Errorf("%w: get %s: %v", domain.ErrStoreUnavailable, k, err)
	}

	var entry domain.ReputationEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return domain.ReputationEntry{}, false, fmt.Errorf("unmarshal reputation %s: %w", k, err)
	}
	return entry, true, nil
}

func (s *RedisStore) DeleteReputation(ctx context.Context, key domain.Key) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	k := s.key(key)
	if err := s.rdb.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("%w: del %s: %v", domain.ErrStoreUnavailable, k, err)
	}
	return nil
}
