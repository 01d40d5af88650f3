package services

import (
	"context"
	"testing"
	"time"

	"github.com/secureflow/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampWindow(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultWindowMinutes},
		{-3, MinWindowMinutes},
		{1, 1},
		{15, 15},
		{60, 60},
		{61, MaxWindowMinutes},
		{1000, MaxWindowMinutes},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampWindow(tt.in), "input %d", tt.in)
	}
}

func TestMetricsWindowing(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()
	now := env.clock.Now()

	ms := func(v float64) *float64 { return &v }
	reason := "duplicate heartbeat"
	writes := []struct {
		age time.Duration
		rec models.LogRecord
	}{
		{time.Hour, models.LogRecord{Key: "h", Risk: models.RiskHigh}},
		{10 * time.Minute, models.LogRecord{Key: "m", Risk: models.RiskHigh, ProcessingTimeMs: ms(30), GarbageReason: &reason}},
		{time.Minute, models.LogRecord{Key: "n", Risk: models.RiskSafe, ProcessingTimeMs: ms(10), IsGarbage: true}},
	}
	for _, w := range writes {
		env.clock.Set(now.Add(-w.age))
		_, err := env.store.Upsert(ctx, w.rec)
		require.NoError(t, err)
	}

	env.clock.Set(now.Add(-2 * time.Minute))
	_, err := env.kb.AddKBItem(ctx, AddKBItemRequest{Text: "recent"})
	require.NoError(t, err)
	env.clock.Set(now)

	five, err := env.metrics.Compute(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, five.WindowMinutes)
	assert.EqualValues(t, 1, five.TotalLast)
	assert.EqualValues(t, 0, five.HighLast)
	assert.EqualValues(t, 1, five.GarbageCount)
	assert.Equal(t, 10.0, five.AvgProcessingMs)
	assert.EqualValues(t, 1, five.LearnedLast)
	assert.Equal(t, now, five.GeneratedAt)

	fifteen, err := env.metrics.Compute(ctx, 15)
	require.NoError(t, err)
	assert.EqualValues(t, 2, fifteen.TotalLast)
	assert.EqualValues(t, 1, fifteen.HighLast)
	assert.EqualValues(t, 2, fifteen.GarbageCount)
	assert.Equal(t, 20.0, fifteen.AvgProcessingMs)

	hour, err := env.metrics.Compute(ctx, 90)
	require.NoError(t, err)
	assert.Equal(t, MaxWindowMinutes, hour.WindowMinutes)
	assert.EqualValues(t, 3, hour.TotalLast)
}

func TestMetricsQueuePendingIsAllTime(t *testing.T) {
	env := newTestEnv(t, 10)
	ctx := context.Background()
	now := env.clock.Now()

	env.clock.Set(now.Add(-3 * time.Hour))
	_, err := env.logs.Ingest(ctx, []byte(`{"id":"old"}`))
	require.NoError(t, err)
	_, err = env.logs.ReplaceFields(ctx, "old", []byte(`{"risk":""}`))
	require.NoError(t, err)
	env.clock.Set(now)

	m, err := env.metrics.Compute(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultWindowMinutes, m.WindowMinutes)
	assert.EqualValues(t, 0, m.TotalLast)
	assert.EqualValues(t, 1, m.QueuePending)
	assert.Zero(t, m.AvgProcessingMs)
}
