// Package activity is the persisted audit trail shown to administrators.
package activity

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fuomag9/dynamics-sync-lite/internal/models"
)

const (
	DefaultLimit = 100
	MaxLimit     = 500

	redacted  = "[redacted]"
	anonymous = "anonymous"
)

var sensitiveKeys = []string{"secret", "token", "password", "authorization"}

// Fields is the free-form context attached to an entry.
type Fields map[string]interface{}

type requestInfoKey struct{}

type requestInfo struct {
	actor string
	ip    string
}

// WithRequestInfo attaches the acting identity and source IP to ctx.
func WithRequestInfo(ctx context.Context, actor, ip string) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, requestInfo{actor: actor, ip: ip})
}

func infoFrom(ctx context.Context) requestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(requestInfo)
	if info.actor == "" {
		info.actor = anonymous
	}
	return info
}

// Recorder writes activity entries to the process log and, when enabled, the database.
type Recorder struct {
	repo    Repository
	enabled func(ctx context.Context) bool
	now     func() time.Time
}

// NewRecorder creates a Recorder. enabled is consulted on every write; nil means always.
func NewRecorder(repo Repository, enabled func(ctx context.Context) bool) *Recorder {
	if enabled == nil {
		enabled = func(context.Context) bool { return true }
	}
	return &Recorder{repo: repo, enabled: enabled, now: time.Now}
}

// Record stores one entry. Failures are logged, never returned: auditing must not break
// the request that triggered it.
func (r *Recorder) Record(ctx context.Context, level, message string, fields Fields) {
	if !models.ValidLevel(level) {
		level = models.LevelInfo
	}
	info := infoFrom(ctx)
	clean := Redact(fields)

	event := log.WithLevel(zerologLevel(level))
	event.Str("activity", level).Str("actor", info.actor).Str("source_ip", info.ip)
	if len(clean) > 0 {
		event.Interface("context", clean)
	}
	event.Msg(message)

	if r.repo == nil || !r.enabled(ctx) {
		return
	}

	entry := &models.LogEntry{
		CreatedAt: r.now().UTC(),
		Level:     level,
		Message:   message,
		Actor:     info.actor,
		SourceIP:  info.ip,
	}
	if len(clean) > 0 {
		if raw, err := json.Marshal(clean); err == nil {
			entry.Context = string(raw)
		}
	}

	// The request context may be cancelled once the response is written.
	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.repo.Insert(insertCtx, entry); err != nil {
		log.Warn().Err(err).Msg("Activity: Failed to persist log entry")
	}
}

func (r *Recorder) Info(ctx context.Context, message string, fields Fields) {
	r.Record(ctx, models.LevelInfo, message, fields)
}

func (r *Recorder) Success(ctx context.Context, message string, fields Fields) {
	r.Record(ctx, models.LevelSuccess, message, fields)
}

func (r *Recorder) Warning(ctx context.Context, message string, fields Fields) {
	r.Record(ctx, models.LevelWarning, message, fields)
}

func (r *Recorder) Error(ctx context.Context, message string, fields Fields) {
	r.Record(ctx, models.LevelError, message, fields)
}

// List returns a page of entries and the total matching count.
func (r *Recorder) List(ctx context.Context, f Filter) ([]models.LogEntry, int64, error) {
	if f.Level != "" && !models.ValidLevel(f.Level) {
		f.Level = ""
	}
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return r.repo.List(ctx, f)
}

// Stats summarizes the log for the dashboard.
func (r *Recorder) Stats(ctx context.Context) (*models.LogStats, error) {
	return r.repo.Stats(ctx, r.now().UTC())
}

// Clear removes every entry.
func (r *Recorder) Clear(ctx context.Context) (int64, error) {
	return r.repo.Clear(ctx)
}

// Prune deletes entries older than retentionDays.
func (r *Recorder) Prune(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < 1 {
		retentionDays = 1
	}
	cutoff := r.now().UTC().AddDate(0, 0, -retentionDays)
	deleted, err := r.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	log.Info().Int64("deleted", deleted).Int("retention_days", retentionDays).Msg("Activity: Pruned old log entries")
	return deleted, nil
}

// Redact returns a copy of fields with sensitive values replaced. Nested maps are
// redacted too.
func Redact(fields Fields) Fields {
	if len(fields) == 0 {
		return nil
	}
	out := make(Fields, len(fields))
	for k, v := range fields {
		if isSensitive(k) {
			out[k] = redacted
			continue
		}
		switch nested := v.(type) {
		case Fields:
			out[k] = Redact(nested)
		case map[string]interface{}:
			out[k] = Redact(Fields(nested))
		default:
			out[k] = v
		}
	}
	return out
}

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

func zerologLevel(level string) zerolog.Level {
	switch level {
	case models.LevelError:
		return zerolog.ErrorLevel
	case models.LevelWarning:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}
