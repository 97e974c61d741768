// Package alert emits operational alerts to a chat channel with fingerprint
// deduplication. Repeated alerts sharing a fingerprint inside the dedup
// window are suppressed so a flapping workflow cannot flood the channel.
// State is process-local and discarded on restart.
package alert

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gcolon75/Project-Valine-sub002/internal/chat"
	"github.com/gcolon75/Project-Valine-sub002/internal/logging"
	"github.com/gcolon75/Project-Valine-sub002/internal/requestctx"
)

// Severity levels for alerts.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// DefaultDedupWindow suppresses identical alerts for this long.
const DefaultDedupWindow = 5 * time.Minute

// maxMessageLen bounds the message portion of a channel post.
const maxMessageLen = 500

// Manager deduplicates and posts alerts. All methods are safe for concurrent
// use: the dedup check and the last-emitted update happen under one lock so
// two near-simultaneous identical alerts cannot both pass.
type Manager struct {
	mu          sync.Mutex
	lastEmitted map[string]time.Time

	enabled   bool
	channelID string
	window    time.Duration
	poster    chat.Poster
	logger    *logging.Logger
	now       func() time.Time
}

// Option configures the Manager.
type Option func(*Manager)

// WithDedupWindow overrides the default dedup window.
func WithDedupWindow(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.window = d
		}
	}
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an alert manager. When enabled is false every Emit is a
// no-op that leaves fingerprint state untouched.
func NewManager(enabled bool, channelID string, poster chat.Poster, logger *logging.Logger, opts ...Option) *Manager {
	m := &Manager{
		lastEmitted: make(map[string]time.Time),
		enabled:     enabled,
		channelID:   channelID,
		window:      DefaultDedupWindow,
		poster:      poster,
		logger:      logger,
		now:         time.Now,
	}
	if m.logger == nil {
		m.logger = logging.Nop()
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Alert is one alert emission attempt.
type Alert struct {
	Severity string
	SourceID string
	Message  string
	TraceID  string
	// RunURL links the related workflow run, when one exists.
	RunURL string
}

// Emit posts the alert unless an alert with the same fingerprint was emitted
// inside the dedup window. Returns true when the alert was emitted. Channel
// post failures are logged and still count as emitted for dedup purposes, so
// a broken channel does not hammer the API every invocation.
func (m *Manager) Emit(ctx context.Context, a Alert) bool {
	if !m.enabled {
		return false
	}

	fp := Fingerprint(a.Severity, a.SourceID, a.Message)
	now := m.now()

	m.mu.Lock()
	if last, ok := m.lastEmitted[fp]; ok && now.Sub(last) < m.window {
		m.mu.Unlock()
		m.logger.Debug("alert suppressed by dedup window", m.logFields(ctx, fp, a))
		return false
	}
	m.lastEmitted[fp] = now
	m.pruneLocked(now)
	m.mu.Unlock()

	if err := m.poster.PostMessage(ctx, m.channelID, m.render(a)); err != nil {
		fields := m.logFields(ctx, fp, a)
		fields["error"] = err.Error()
		m.logger.Error("alert channel post failed", fields)
	}
	return true
}

// logFields annotates alert log lines with the originating invocation when the
// context carries one. Background emissions keep the ids through the detached
// context.
func (m *Manager) logFields(ctx context.Context, fp string, a Alert) map[string]any {
	fields := map[string]any{
		"fingerprint": fp,
		"source_id":   a.SourceID,
	}
	if id := requestctx.InvocationID(ctx); id != "" {
		fields["invocation_id"] = id
	}
	if id := requestctx.RequesterID(ctx); id != "" {
		fields["requester_id"] = id
	}
	return fields
}

// pruneLocked drops fingerprints stale enough that they can never suppress
// again. Caller holds m.mu.
func (m *Manager) pruneLocked(now time.Time) {
	cutoff := now.Add(-2 * m.window)
	for fp, last := range m.lastEmitted {
		if last.Before(cutoff) {
			delete(m.lastEmitted, fp)
		}
	}
}

func (m *Manager) render(a Alert) string {
	marker := "ℹ️"
	switch a.Severity {
	case SeverityWarning:
		marker = "⚠️"
	case SeverityCritical:
		marker = "🚨"
	}

	msg := a.Message
	if len(msg) > maxMessageLen {
		cut := maxMessageLen
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "…"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s: %s", marker, a.Severity, a.SourceID, msg)
	if a.TraceID != "" {
		fmt.Fprintf(&b, " (trace %s)", shortID(a.TraceID))
	}
	if a.RunURL != "" {
		fmt.Fprintf(&b, "\n%s", a.RunURL)
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Fingerprint hashes severity, source, and the normalized message into the
// dedup key. Normalization lowercases and collapses whitespace so cosmetic
// differences do not defeat dedup.
func Fingerprint(severity, sourceID, message string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(message)), " ")
	h := sha256.Sum256([]byte(severity + "\x00" + sourceID + "\x00" + normalized))
	return hex.EncodeToString(h[:8])
}
