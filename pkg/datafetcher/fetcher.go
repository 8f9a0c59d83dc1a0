// Package datafetcher implements the Data Fetcher: the only component
// authorized to reach the operational data store, on behalf of agent
// tool calls (SPEC_FULL.md §4.1/§6.1). It exposes exactly three access
// patterns — point-get, indexed range-query, and filter-scan — backed
// by Redis, following the same retry/circuit-breaker discipline the
// Model Gateway uses for upstream model calls.
package datafetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	apperrors "github.com/disruption-ops/orchestrator/internal/errors"
	"github.com/disruption-ops/orchestrator/pkg/resilience"
	"github.com/disruption-ops/orchestrator/pkg/shared/logging"
)

// Record is one fetched entity: its raw field values plus, where a
// field parses as a number, its normalized float64 value. Agents and
// the arbitrator read from Fields; Numeric exists so a tool layer can
// do arithmetic (e.g. averaging compensation amounts) without
// re-parsing strings.
type Record struct {
	Key     string
	Fields  map[string]string
	Numeric map[string]float64
}

// Config configures the Fetcher's connection and retry behavior.
type Config struct {
	Address          string
	Password         string
	DB               int
	DialTimeout      time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	BreakerFailureThreshold float64
	BreakerResetTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.RetryMaxAttempts <= 0 {
		c.RetryMaxAttempts = 5
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 30 * time.Second
	}
	if c.BreakerFailureThreshold <= 0 {
		c.BreakerFailureThreshold = 0.5
	}
	if c.BreakerResetTimeout <= 0 {
		c.BreakerResetTimeout = 30 * time.Second
	}
	return c
}

// Fetcher is the Data Fetcher. It is safe for concurrent use.
type Fetcher struct {
	client  *redis.Client
	cfg     Config
	breaker *resilience.Breaker
	logger  *logrus.Logger
}

// New builds a Fetcher around an already-constructed redis.Client
// (tests wire this to a miniredis instance; production wires it to a
// real Redis endpoint via cfg.Address).
func New(client *redis.Client, cfg Config, logger *logrus.Logger) *Fetcher {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = logrus.New()
	}
	return &Fetcher{
		client:  client,
		cfg:     cfg,
		breaker: resilience.NewBreaker("data-fetcher", cfg.BreakerFailureThreshold, cfg.BreakerResetTimeout),
		logger:  logger,
	}
}

// PointGet fetches a single record by its exact key (e.g.
// "flight:EY123:2026-07-31"). It returns an ErrorTypeValidation error
// wrapped as "not found" detail when the key does not exist — callers
// distinguish "no such record" from a store failure by checking
// apperrors.IsType(err, apperrors.ErrorTypeTransient).
func (f *Fetcher) PointGet(ctx context.Context, key string) (*Record, error) {
	var record *Record
	err := f.withRetry(ctx, "point_get", func() error {
		values, err := f.client.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(values) == 0 {
			return apperrors.NewValidationError(fmt.Sprintf("no record found for key %q", key))
		}
		record = toRecord(key, values)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// RangeQuery performs an indexed range lookup: it reads member keys
// from the sorted set named index whose score falls within
// [minScore, maxScore], then batch-fetches each member's hash via
// MGET-equivalent pipelining. index is expected to have been populated
// by the ingestion side with ZADD <index> <score> <key>, where score is
// typically a Unix timestamp (so date-range queries become score-range
// queries).
func (f *Fetcher) RangeQuery(ctx context.Context, index string, minScore, maxScore float64) ([]*Record, error) {
	var records []*Record
	err := f.withRetry(ctx, "range_query", func() error {
		keys, err := f.client.ZRangeByScore(ctx, index, &redis.ZRangeBy{
			Min: formatScore(minScore),
			Max: formatScore(maxScore),
		}).Result()
		if err != nil {
			return err
		}
		records = nil
		pipe := f.client.Pipeline()
		cmds := make([]*redis.MapStringStringCmd, len(keys))
		for i, key := range keys {
			cmds[i] = pipe.HGetAll(ctx, key)
		}
		if len(keys) > 0 {
			if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
				return err
			}
		}
		for i, key := range keys {
			values, err := cmds[i].Result()
			if err != nil || len(values) == 0 {
				continue
			}
			records = append(records, toRecord(key, values))
		}
		return nil
	})
	return records, err
}

// ScanPredicate is a client-side filter applied to every key a
// filter-scan walks.
type ScanPredicate func(r *Record) bool

// FilterScan walks every key matching keyPattern via Redis SCAN
// (bounded by the pattern, never KEYS) and returns the records that
// satisfy predicate, stopping once limit records have been collected.
// This is the slow path of the three access patterns; every call is
// logged at warn level so excessive filter-scan use is visible in
// operational logs (SPEC_FULL.md §4.1 note).
func (f *Fetcher) FilterScan(ctx context.Context, keyPattern string, predicate ScanPredicate, limit int) ([]*Record, error) {
	f.logger.WithFields(logging.StoreFields("filter_scan", keyPattern).ToLogrus()).Warn("filter_scan invoked: O(n) store scan, prefer range_query or point_get where possible")

	var results []*Record
	err := f.withRetry(ctx, "filter_scan", func() error {
		results = nil
		var cursor uint64
		for {
			keys, nextCursor, err := f.client.Scan(ctx, cursor, keyPattern, 100).Result()
			if err != nil {
				return err
			}
			for _, key := range keys {
				values, err := f.client.HGetAll(ctx, key).Result()
				if err != nil || len(values) == 0 {
					continue
				}
				record := toRecord(key, values)
				if predicate == nil || predicate(record) {
					results = append(results, record)
					if limit > 0 && len(results) >= limit {
						return nil
					}
				}
			}
			cursor = nextCursor
			if cursor == 0 {
				return nil
			}
		}
	})
	return results, err
}

func toRecord(key string, values map[string]string) *Record {
	r := &Record{Key: key, Fields: values, Numeric: map[string]float64{}}
	for field, raw := range values {
		if d, err := decimal.NewFromString(raw); err == nil {
			f, _ := d.Float64()
			r.Numeric[field] = f
		}
	}
	return r
}

func formatScore(f float64) string {
	return decimal.NewFromFloat(f).String()
}

// withRetry runs op with exponential backoff (base delay doubling each
// attempt, up to cfg.RetryMaxAttempts) behind the Fetcher's circuit
// breaker. Validation errors (e.g. "not found") are never retried.
func (f *Fetcher) withRetry(ctx context.Context, operation string, op func() error) error {
	delay := f.cfg.RetryBaseDelay
	var lastErr error
	for attempt := 0; attempt < f.cfg.RetryMaxAttempts; attempt++ {
		lastErr = f.breaker.Call(op)
		if lastErr == nil {
			return nil
		}
		if apperrors.IsType(lastErr, apperrors.ErrorTypeValidation) {
			return lastErr
		}
		if apperrors.IsType(lastErr, apperrors.ErrorTypeTransient) {
			// breaker is open; no point retrying immediately.
			return lastErr
		}
		if attempt+1 == f.cfg.RetryMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return apperrors.NewCancelledError(operation)
		case <-time.After(delay):
		}
		delay *= 2
	}
	return apperrors.NewTransientError(operation, lastErr)
}
