// Package redispattern is the optional Redis-backed PatternStore
// implementation, selected via patternLearning.backend="redis".
// It implements the same narrow
// scoring.PatternQuery / pattern.Updater ports as the default file store so
// BookingStateMachine and CourtScorer are indifferent to the backend.
package redispattern

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trytofly94/squash-booker/internal/pattern"
)

// Store persists BookingPattern records as JSON string values under a configured
// key prefix, one key per (court, timeSlot, dayOfWeek).
type Store struct {
	client    *redis.Client
	keyPrefix string
	nowFn     func() time.Time
}

// New constructs a Store against an existing *redis.Client.
func New(client *redis.Client, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = "booker:pattern:"
	}
	return &Store{client: client, keyPrefix: keyPrefix, nowFn: time.Now}
}

func (s *Store) key(k pattern.Key) string {
	return fmt.Sprintf("%s%s:%s:%d", s.keyPrefix, k.CourtID, k.TimeSlot, k.DayOfWeek)
}

// Update atomically increments attempts/successes for key via a Redis
// transaction, mirroring pattern.Store.Update's semantics.
func (s *Store) Update(ctx context.Context, key pattern.Key, outcome pattern.Outcome) (pattern.Record, error) {
	redisKey := s.key(key)
	var rec pattern.Record

	txf := func(tx *redis.Tx) error {
		existing, err := tx.Get(ctx, redisKey).Bytes()
		switch {
		case err == redis.Nil:
			rec = pattern.Record{CourtID: key.CourtID, TimeSlot: key.TimeSlot, DayOfWeek: key.DayOfWeek}
		case err != nil:
			return err
		default:
			if jsonErr := json.Unmarshal(existing, &rec); jsonErr != nil {
				return jsonErr
			}
		}

		rec.Attempts++
		if outcome == pattern.Success {
			rec.Successes++
		}
		if rec.Attempts > 0 {
			rec.SuccessRate = float64(rec.Successes) / float64(rec.Attempts)
		}
		rec.LastUpdated = s.nowFn()

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, data, 0)
			return nil
		})
		return err
	}

	if err := s.client.Watch(ctx, txf, redisKey); err != nil {
		return pattern.Record{}, err
	}
	return rec, nil
}

// SuccessRate implements scoring.PatternQuery.
func (s *Store) SuccessRate(ctx context.Context, courtID, timeSlot string, dayOfWeek int) (float64, int) {
	data, err := s.client.Get(ctx, s.key(pattern.Key{CourtID: courtID, TimeSlot: timeSlot, DayOfWeek: dayOfWeek})).Bytes()
	if err != nil {
		return 0, 0
	}
	var rec pattern.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, 0
	}
	return rec.SuccessRate, rec.Attempts
}

// Export scans all keys under the configured prefix and returns their
// records, for migration.
func (s *Store) Export(ctx context.Context) ([]pattern.Record, error) {
	var records []pattern.Record
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		var rec pattern.Record
		if err := json.Unmarshal(data, &rec); err == nil {
			records = append(records, rec)
		}
	}
	return records, iter.Err()
}

// Import writes records into Redis under their derived keys, for migration.
func (s *Store) Import(ctx context.Context, records []pattern.Record) error {
	pipe := s.client.Pipeline()
	for _, rec := range records {
		key := pattern.Key{CourtID: rec.CourtID, TimeSlot: rec.TimeSlot, DayOfWeek: rec.DayOfWeek}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		pipe.Set(ctx, s.key(key), data, 0)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// PruneStale removes entries whose LastUpdated predates retentionDays,
// returning the count removed.
func (s *Store) PruneStale(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := s.nowFn().AddDate(0, 0, -retentionDays)

	removed := 0
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		data, err := s.client.Get(ctx, k).Bytes()
		if err != nil {
			continue
		}
		var rec pattern.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if rec.LastUpdated.Before(cutoff) {
			if err := s.client.Del(ctx, k).Err(); err == nil {
				removed++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	return removed, nil
}
