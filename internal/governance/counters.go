package governance

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Counters holds Redis-backed, intentionally-volatile state: daily
// spend totals, sliding rate-limit windows, and bounded transaction
// history — adapted from wisbric-nightowl's redis rate limiter
// (internal/auth/ratelimit.go) generalized from a fixed window into a
// true sliding window via a sorted set.
type Counters struct {
	redis *redis.Client
}

func NewCounters(rdb *redis.Client) *Counters {
	return &Counters{redis: rdb}
}

func dailyTotalKey(entityID string, day string) string {
	return fmt.Sprintf("occam:governance:daily_total:%s:%s", entityID, day)
}

func windowKey(entityID string) string {
	return fmt.Sprintf("occam:governance:window:%s", entityID)
}

func historyKey(entityID string) string {
	return fmt.Sprintf("occam:governance:history:%s", entityID)
}

// DailyTotal returns the running sum of transaction amounts recorded for
// entityID since local (UTC) midnight of `now`.
func (c *Counters) DailyTotal(ctx context.Context, entityID string, now time.Time) (decimal.Decimal, error) {
	raw, err := c.redis.Get(ctx, dailyTotalKey(entityID, now.UTC().Format("2006-01-02"))).Result()
	if err != nil {
		if err == redis.Nil {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("governance: read daily total: %w", err)
	}
	return decimal.NewFromString(raw)
}

// AddToDailyTotal increments the running daily sum, expiring at the next
// UTC midnight.
func (c *Counters) AddToDailyTotal(ctx context.Context, entityID string, amount decimal.Decimal, now time.Time) error {
	key := dailyTotalKey(entityID, now.UTC().Format("2006-01-02"))
	total, err := c.DailyTotal(ctx, entityID, now)
	if err != nil {
		return err
	}
	total = total.Add(amount)

	nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return c.redis.Set(ctx, key, total.String(), nextMidnight.Sub(now)).Err()
}

// WindowCount returns the number of transactions recorded for entityID
// within the trailing window duration ending at now.
func (c *Counters) WindowCount(ctx context.Context, entityID string, window time.Duration, now time.Time) (int64, error) {
	key := windowKey(entityID)
	cutoff := float64(now.Add(-window).UnixNano())
	if err := c.redis.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%f", cutoff)).Err(); err != nil {
		return 0, fmt.Errorf("governance: trim window: %w", err)
	}
	return c.redis.ZCard(ctx, key).Result()
}

// RecordInWindow adds one transaction occurrence to the sliding window set.
func (c *Counters) RecordInWindow(ctx context.Context, entityID string, now time.Time) error {
	key := windowKey(entityID)
	member := fmt.Sprintf("%d", now.UnixNano())
	if err := c.redis.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member}).Err(); err != nil {
		return fmt.Errorf("governance: record window entry: %w", err)
	}
	c.redis.Expire(ctx, key, 24*time.Hour)
	return nil
}

// HistoryEntry is one bounded rolling-history record used for anomaly
// detection (rolling mean, duplicate-amount, rapid-transaction checks).
type HistoryEntry struct {
	Amount decimal.Decimal
	At     time.Time
}

const maxHistoryEntries = 1000

// RecordTransaction appends to the bounded rolling history (spec.md
// section 4.4: "append to rolling history bounded at 1,000 entries").
func (c *Counters) RecordTransaction(ctx context.Context, entityID string, entry HistoryEntry) error {
	key := historyKey(entityID)
	payload := fmt.Sprintf("%s|%d", entry.Amount.String(), entry.At.UnixNano())
	pipe := c.redis.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, maxHistoryEntries-1)
	pipe.Expire(ctx, key, 90*24*time.Hour)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("governance: record transaction history: %w", err)
	}
	return nil
}

// History returns the rolling history, newest first.
func (c *Counters) History(ctx context.Context, entityID string) ([]HistoryEntry, error) {
	raw, err := c.redis.LRange(ctx, historyKey(entityID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("governance: read transaction history: %w", err)
	}
	entries := make([]HistoryEntry, 0, len(raw))
	for _, r := range raw {
		parts := splitOnce(r, '|')
		if parts[0] == "" || parts[1] == "" {
			continue
		}
		amount, err := decimal.NewFromString(parts[0])
		if err != nil {
			continue
		}
		var unixNano int64
		if _, err := fmt.Sscanf(parts[1], "%d", &unixNano); err != nil {
			continue
		}
		entries = append(entries, HistoryEntry{Amount: amount, At: time.Unix(0, unixNano).UTC()})
	}
	return entries, nil
}

func splitOnce(s string, sep byte) [2]string {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return [2]string{s[:i], s[i+1:]}
		}
	}
	return [2]string{s, ""}
}
