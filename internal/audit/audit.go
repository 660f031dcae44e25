package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry represents an audit log entry.
type Entry struct {
	ID            string
	TenantID      string
	Actor         string
	Role          string
	Action        string
	ResourceType  string
	ResourceID    string
	RouteID       string
	Metadata      json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	RequestID     string
	CreatedAt     time.Time
}

func (e Entry) normalize(now func() time.Time) Entry {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now().UTC()
	}
	if e.PayloadDigest == "" {
		e.PayloadDigest = DigestJSON(e.Metadata)
	}
	return e
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// Query selects a route's audit trail within a tenant.
type Query struct {
	TenantID string
	RouteID  string
	Limit    int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (q Query) limit() int {
	switch {
	case q.Limit <= 0:
		return defaultListLimit
	case q.Limit > maxListLimit:
		return maxListLimit
	default:
		return q.Limit
	}
}

// Reader lists audit entries.
type Reader interface {
	List(ctx context.Context, q Query) ([]Entry, error)
}

// NewID generates a random audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON computes a SHA256 hex digest for metadata payloads.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MemoryLogger keeps entries in memory. Used when no database is configured.
type MemoryLogger struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryLogger constructs an in-memory audit logger.
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

// Log appends an entry.
func (l *MemoryLogger) Log(ctx context.Context, entry Entry) error {
	entry = entry.normalize(time.Now)
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
	return nil
}

// List returns matching entries, newest first.
func (l *MemoryLogger) List(ctx context.Context, q Query) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for i := len(l.entries) - 1; i >= 0 && len(out) < q.limit(); i-- {
		e := l.entries[i]
		if e.TenantID == q.TenantID && e.RouteID == q.RouteID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Entries returns a copy of the logged entries.
func (l *MemoryLogger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}
