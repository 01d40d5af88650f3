package services

import (
	"context"
	"time"

	"github.com/secureflow/backend/internal/models"
	"github.com/secureflow/backend/internal/store"
)

const (
	DefaultWindowMinutes = 5
	MinWindowMinutes     = 1
	MaxWindowMinutes     = 60
)

// ClampWindow resolves a requested window. Zero means unset and yields the
// default; anything else is clamped to [MinWindowMinutes, MaxWindowMinutes].
func ClampWindow(minutes int) int {
	switch {
	case minutes == 0:
		return DefaultWindowMinutes
	case minutes < MinWindowMinutes:
		return MinWindowMinutes
	case minutes > MaxWindowMinutes:
		return MaxWindowMinutes
	default:
		return minutes
	}
}

// MetricsService computes windowed operational statistics. It keeps no
// state; every call reads the store again.
type MetricsService struct {
	store store.Store
	now   func() time.Time
}

// NewMetricsService creates a metrics service. now defaults to UTC wall time.
func NewMetricsService(st store.Store, now func() time.Time) *MetricsService {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MetricsService{store: st, now: now}
}

// Compute returns statistics over the trailing windowMinutes.
func (s *MetricsService) Compute(ctx context.Context, windowMinutes int) (models.WindowMetrics, error) {
	window := ClampWindow(windowMinutes)
	now := s.now()
	since := now.Add(-time.Duration(window) * time.Minute)

	recs, err := s.store.ListSince(ctx, since)
	if err != nil {
		return models.WindowMetrics{}, err
	}

	m := models.WindowMetrics{WindowMinutes: window, GeneratedAt: now}
	var processingSum float64
	var reporters int
	for _, r := range recs {
		m.TotalLast++
		if r.Risk == models.RiskHigh {
			m.HighLast++
		}
		if r.Garbage() {
			m.GarbageCount++
		}
		if r.ProcessingTimeMs != nil {
			processingSum += *r.ProcessingTimeMs
			reporters++
		}
	}
	if reporters > 0 {
		m.AvgProcessingMs = processingSum / float64(reporters)
	}

	if m.QueuePending, err = s.store.Count(ctx, store.Filter{RiskEmpty: true}); err != nil {
		return models.WindowMetrics{}, err
	}
	if m.LearnedLast, err = s.store.CountKB(ctx, since); err != nil {
		return models.WindowMetrics{}, err
	}
	return m, nil
}
