package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"gate-admission/models"
	"gate-admission/utils"

	"github.com/redis/go-redis/v9"
)

// MetricsRecorder is told about every successful verification.
type MetricsRecorder interface {
	RecordVerification(ctx context.Context, record models.VerificationRecord) error
}

// VerificationLog is an append-only log of verifications per event.
type VerificationLog interface {
	Append(ctx context.Context, record models.VerificationRecord) error
	// Since returns the event's verifications at or after since, oldest first.
	Since(ctx context.Context, eventID string, since time.Time) ([]models.VerificationRecord, error)
}

type MemoryVerificationLog struct {
	mu      sync.RWMutex
	records map[string][]models.VerificationRecord
}

func NewMemoryVerificationLog() *MemoryVerificationLog {
	return &MemoryVerificationLog{records: make(map[string][]models.VerificationRecord)}
}

func (l *MemoryVerificationLog) Append(_ context.Context, record models.VerificationRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[record.EventID] = append(l.records[record.EventID], record)
	return nil
}

func (l *MemoryVerificationLog) Since(_ context.Context, eventID string, since time.Time) ([]models.VerificationRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []models.VerificationRecord
	for _, record := range l.records[eventID] {
		if !record.VerifiedAt.Before(since) {
			out = append(out, record)
		}
	}
	slices.SortStableFunc(out, func(a, b models.VerificationRecord) int {
		return a.VerifiedAt.Compare(b.VerifiedAt)
	})
	return out, nil
}

func verificationsKey(eventID string) string {
	return gateKeyPrefix + "verifications:" + eventID
}

// RedisVerificationLog keeps one ZSET per event scored by verification time
// in milliseconds.
type RedisVerificationLog struct {
	Redis *redis.Client
}

func NewRedisVerificationLog(redisClient *redis.Client) *RedisVerificationLog {
	return &RedisVerificationLog{Redis: redisClient}
}

func (l *RedisVerificationLog) Append(ctx context.Context, record models.VerificationRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return l.Redis.ZAdd(ctx, verificationsKey(record.EventID), redis.Z{
		Score:  float64(record.VerifiedAt.UnixMilli()),
		Member: string(data),
	}).Err()
}

func (l *RedisVerificationLog) Since(ctx context.Context, eventID string, since time.Time) ([]models.VerificationRecord, error) {
	members, err := l.Redis.ZRangeByScore(ctx, verificationsKey(eventID), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list verifications for %s: %w", eventID, err)
	}

	out := make([]models.VerificationRecord, 0, len(members))
	for _, member := range members {
		var record models.VerificationRecord
		if err := json.Unmarshal([]byte(member), &record); err != nil {
			slog.Warn("skipping malformed verification record", "event_id", eventID, "error", err)
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

const (
	hourlyFlowLayout     = "2006-01-02T15"
	defaultWindowMinutes = 60
)

// GateMetricsService turns the verification log into dashboard summaries.
type GateMetricsService struct {
	log    VerificationLog
	events EventDirectory
	clock  utils.Clock
}

func NewGateMetricsService(log VerificationLog, events EventDirectory, clock utils.Clock) *GateMetricsService {
	return &GateMetricsService{log: log, events: events, clock: clock}
}

func (s *GateMetricsService) RecordVerification(ctx context.Context, record models.VerificationRecord) error {
	return s.log.Append(ctx, record)
}

func (s *GateMetricsService) Summary(ctx context.Context, eventID string) (*models.EventMetricsSummary, error) {
	event, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	records, err := s.log.Since(ctx, eventID, time.Time{})
	if err != nil {
		return nil, err
	}

	oneHourAgo := s.clock.Now().Add(-time.Hour)
	summary := &models.EventMetricsSummary{
		TotalEntries:  len(records),
		GateBreakdown: make(map[string]models.GateBreakdown, len(event.Gates)),
		Gates:         event.Gates,
	}

	for _, gate := range event.Gates {
		breakdown := models.GateBreakdown{
			RecentEntries: []models.RecentEntry{},
			HourlyFlow:    make(map[string]int),
		}
		for _, record := range records {
			if record.GateID != gate {
				continue
			}
			breakdown.TotalEntries++
			breakdown.HourlyFlow[record.VerifiedAt.UTC().Format(hourlyFlowLayout)]++
			if !record.VerifiedAt.Before(oneHourAgo) {
				breakdown.RecentEntries = append(breakdown.RecentEntries, models.RecentEntry{
					UserID:     record.UserID,
					VerifiedAt: record.VerifiedAt,
				})
			}
		}
		slices.SortStableFunc(breakdown.RecentEntries, func(a, b models.RecentEntry) int {
			return b.VerifiedAt.Compare(a.VerifiedAt)
		})
		summary.GateBreakdown[gate] = breakdown
	}

	for _, record := range records {
		if !record.VerifiedAt.Before(oneHourAgo) {
			summary.CurrentFlowPerHour++
		}
	}
	return summary, nil
}

// RealtimeFlow counts verifications per gate over the last windowMinutes.
// A non-positive window means the default of 60 minutes.
func (s *GateMetricsService) RealtimeFlow(ctx context.Context, eventID string, windowMinutes int) (*models.RealtimeGateFlow, error) {
	if windowMinutes <= 0 {
		windowMinutes = defaultWindowMinutes
	}

	event, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	cutoff := s.clock.Now().Add(-time.Duration(windowMinutes) * time.Minute)
	records, err := s.log.Since(ctx, eventID, cutoff)
	if err != nil {
		return nil, err
	}

	flow := &models.RealtimeGateFlow{
		WindowMinutes: windowMinutes,
		GateFlow:      make(map[string]int, len(event.Gates)),
	}
	for _, gate := range event.Gates {
		flow.GateFlow[gate] = 0
	}
	for _, record := range records {
		if _, ok := flow.GateFlow[record.GateID]; ok {
			flow.GateFlow[record.GateID]++
			flow.TotalFlow++
		}
	}
	return flow, nil
}
