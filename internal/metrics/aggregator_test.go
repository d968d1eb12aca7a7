package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/psds-microservice/conversation-router/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type upsert struct {
	date    string
	minutes int
	channel string
}

type fakeStore struct {
	resolved  map[string]int
	upserts   []upsert
	upsertErr error
}

// RecordResolution applies both writes or neither.
func (f *fakeStore) RecordResolution(_ context.Context, id string, _ time.Time, minutes int, date, channelID string) (bool, error) {
	if _, ok := f.resolved[id]; ok {
		return false, nil
	}
	if f.upsertErr != nil {
		return false, f.upsertErr
	}
	f.resolved[id] = minutes
	f.upserts = append(f.upserts, upsert{date, minutes, channelID})
	return true, nil
}

func TestResolutionMinutes(t *testing.T) {
	created := time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		closed time.Time
		want   int
	}{
		{"exact", created.Add(90 * time.Minute), 90},
		{"rounds down", created.Add(10*time.Minute + 29*time.Second), 10},
		{"rounds half up", created.Add(10*time.Minute + 30*time.Second), 11},
		{"zero", created, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolutionMinutes(created, tt.closed))
		})
	}
}

func TestAverage(t *testing.T) {
	assert.Equal(t, 15, Average(30, 2))
	assert.Equal(t, 17, Average(50, 3))
	assert.Equal(t, 0, Average(10, 0))
}

func TestAggregator_RecordClose(t *testing.T) {
	store := &fakeStore{resolved: map[string]int{}}
	a := NewAggregator(store, time.UTC, time.Second, zap.NewNop())

	conv := &model.Conversation{ID: "c1", ChannelID: "web", CreatedAt: time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC)}
	closedAt := conv.CreatedAt.Add(20 * time.Minute)

	recorded, err := a.RecordClose(context.Background(), conv, closedAt)
	require.NoError(t, err)
	assert.True(t, recorded)
	require.NotNil(t, conv.ResolutionTimeMinutes)
	assert.Equal(t, 20, *conv.ResolutionTimeMinutes)
	assert.Equal(t, []upsert{{"2024-01-08", 20, "web"}}, store.upserts)

	// closing twice counts once
	recorded, err = a.RecordClose(context.Background(), conv, closedAt)
	require.NoError(t, err)
	assert.False(t, recorded)
	assert.Len(t, store.upserts, 1)
}

func TestAggregator_DateUsesLocation(t *testing.T) {
	store := &fakeStore{resolved: map[string]int{}}
	loc := time.FixedZone("UTC+3", 3*60*60)
	a := NewAggregator(store, loc, time.Second, zap.NewNop())

	closedAt := time.Date(2024, 1, 8, 22, 30, 0, 0, time.UTC)
	conv := &model.Conversation{ID: "c1", ChannelID: "web", CreatedAt: closedAt.Add(-time.Hour)}
	_, err := a.RecordClose(context.Background(), conv, closedAt)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-09", store.upserts[0].date)
}

func TestAggregator_FailedWriteCanBeRetried(t *testing.T) {
	store := &fakeStore{resolved: map[string]int{}, upsertErr: errors.New("db down")}
	a := NewAggregator(store, nil, time.Second, zap.NewNop())

	created := time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC)
	conv := &model.Conversation{ID: "c1", CreatedAt: created}
	recorded, err := a.RecordClose(context.Background(), conv, created.Add(time.Hour))
	require.Error(t, err)
	assert.False(t, recorded)
	assert.Nil(t, conv.ResolutionTimeMinutes)

	store.upsertErr = nil
	recorded, err = a.RecordClose(context.Background(), conv, created.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, recorded)
	assert.Equal(t, []upsert{{"2024-01-08", 60, ""}}, store.upserts)
}
