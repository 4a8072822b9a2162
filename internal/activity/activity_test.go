package activity

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuomag9/dynamics-sync-lite/internal/models"
)

type memoryRepository struct {
	mu        sync.RWMutex
	entries   []models.LogEntry
	insertErr error
	lastList  Filter
}

func (r *memoryRepository) Insert(_ context.Context, e *models.LogEntry) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e.ID = int64(len(r.entries) + 1)
	r.entries = append(r.entries, *e)
	return nil
}

func (r *memoryRepository) List(_ context.Context, f Filter) ([]models.LogEntry, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.lastList = f
	var out []models.LogEntry
	for _, e := range r.entries {
		if f.Level == "" || e.Level == f.Level {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	total := int64(len(out))
	if f.Offset >= len(out) {
		return nil, total, nil
	}
	out = out[f.Offset:]
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (r *memoryRepository) Stats(_ context.Context, now time.Time) (*models.LogStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := &models.LogStats{ByLevel: map[string]int64{}}
	for _, e := range r.entries {
		stats.Total++
		stats.ByLevel[e.Level]++
		if e.CreatedAt.After(now.AddDate(0, 0, -7)) {
			stats.LastWeek++
		}
	}
	return stats, nil
}

func (r *memoryRepository) Clear(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := int64(len(r.entries))
	r.entries = nil
	return n, nil
}

func (r *memoryRepository) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []models.LogEntry
	for _, e := range r.entries {
		if !e.CreatedAt.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	n := int64(len(r.entries) - len(kept))
	r.entries = kept
	return n, nil
}

func TestRecorder_Record(t *testing.T) {
	repo := &memoryRepository{}
	rec := NewRecorder(repo, nil)
	ctx := WithRequestInfo(context.Background(), "a@x.com", "203.0.113.7")

	rec.Success(ctx, "Profile saved", Fields{"contact_id": "c-1", "access_token": "tok", "client_secret": "s"})

	require.Len(t, repo.entries, 1)
	entry := repo.entries[0]
	assert.Equal(t, models.LevelSuccess, entry.Level)
	assert.Equal(t, "Profile saved", entry.Message)
	assert.Equal(t, "a@x.com", entry.Actor)
	assert.Equal(t, "203.0.113.7", entry.SourceIP)

	var stored map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(entry.Context), &stored))
	assert.Equal(t, "c-1", stored["contact_id"])
	assert.Equal(t, redacted, stored["access_token"])
	assert.Equal(t, redacted, stored["client_secret"])
}

func TestRecorder_DefaultsAndDisabled(t *testing.T) {
	repo := &memoryRepository{}
	enabled := true
	rec := NewRecorder(repo, func(context.Context) bool { return enabled })

	rec.Record(context.Background(), "bogus", "m", nil)
	require.Len(t, repo.entries, 1)
	assert.Equal(t, models.LevelInfo, repo.entries[0].Level)
	assert.Equal(t, anonymous, repo.entries[0].Actor)
	assert.Empty(t, repo.entries[0].Context)

	enabled = false
	rec.Error(context.Background(), "not stored", nil)
	assert.Len(t, repo.entries, 1)
}

func TestRecorder_InsertFailureIsSwallowed(t *testing.T) {
	rec := NewRecorder(&memoryRepository{insertErr: errors.New("db down")}, nil)
	assert.NotPanics(t, func() {
		rec.Warning(context.Background(), "m", nil)
	})
}

func TestRecorder_CancelledContextStillPersists(t *testing.T) {
	repo := &memoryRepository{}
	rec := NewRecorder(repo, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec.Info(ctx, "after response", nil)
	assert.Len(t, repo.entries, 1)
}

func TestRecorder_ListClampsFilter(t *testing.T) {
	repo := &memoryRepository{}
	rec := NewRecorder(repo, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		in   Filter
		want Filter
	}{
		{"defaults", Filter{}, Filter{Limit: DefaultLimit}},
		{"max", Filter{Limit: 10000}, Filter{Limit: MaxLimit}},
		{"negative offset", Filter{Limit: 5, Offset: -3}, Filter{Limit: 5}},
		{"unknown level", Filter{Level: "debug", Limit: 5}, Filter{Limit: 5}},
		{"known level", Filter{Level: models.LevelError, Limit: 5, Offset: 10}, Filter{Level: models.LevelError, Limit: 5, Offset: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := rec.List(ctx, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, repo.lastList)
		})
	}
}

func TestRecorder_ListNewestFirst(t *testing.T) {
	repo := &memoryRepository{}
	rec := NewRecorder(repo, nil)
	ctx := context.Background()
	for _, msg := range []string{"first", "second", "third"} {
		rec.Info(ctx, msg, nil)
	}

	entries, total, err := rec.List(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, entries, 2)
	assert.Equal(t, "third", entries[0].Message)
	assert.Equal(t, "second", entries[1].Message)
}

func TestRecorder_Prune(t *testing.T) {
	now := time.Date(2026, 6, 30, 3, 14, 0, 0, time.UTC)
	repo := &memoryRepository{entries: []models.LogEntry{
		{ID: 1, CreatedAt: now.AddDate(0, 0, -45), Level: models.LevelInfo},
		{ID: 2, CreatedAt: now.AddDate(0, 0, -31), Level: models.LevelInfo},
		{ID: 3, CreatedAt: now.AddDate(0, 0, -29), Level: models.LevelError},
		{ID: 4, CreatedAt: now, Level: models.LevelSuccess},
	}}
	rec := NewRecorder(repo, nil)
	rec.now = func() time.Time { return now }

	deleted, err := rec.Prune(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.Len(t, repo.entries, 2)

	cleared, err := rec.Clear(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), cleared)
}

func TestRedact(t *testing.T) {
	assert.Nil(t, Redact(nil))

	out := Redact(Fields{
		"Authorization": "Bearer x",
		"password":      "p",
		"email":         "a@x.com",
		"nested":        map[string]interface{}{"webhook_secret": "s", "ok": 1},
	})
	assert.Equal(t, redacted, out["Authorization"])
	assert.Equal(t, redacted, out["password"])
	assert.Equal(t, "a@x.com", out["email"])
	assert.Equal(t, Fields{"webhook_secret": redacted, "ok": 1}, out["nested"])
}
