package invoice

import (
	"context"
	"time"

	"github.com/zombor/invoice-scanner/internal/scanning"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// AuditLogEntry records one extraction attempt. Entries are append-only.
type AuditLogEntry struct {
	ID           string                  `json:"id"`
	ActorID      *string                 `json:"user_id"` // nil when authentication is disabled
	FileName     string                  `json:"file_name"`
	FileSize     int64                   `json:"file_size"`
	NumPages     int                     `json:"num_pages"`
	TokensUsed   int                     `json:"tokens_used"`
	Status       string                  `json:"status"`
	CreatedAt    time.Time               `json:"created_at"`
	InputData    map[string]any          `json:"input_data"`
	OutputData   *scanning.InvoiceRecord `json:"output_data"`
	ErrorMessage *string                 `json:"error_message"`
}

// AuditStore defines the persistence boundary for audit log entries
type AuditStore interface {
	// Append stores a new entry. Existing entries are never modified.
	Append(ctx context.Context, entry *AuditLogEntry) error

	// Recent returns up to limit entries for actorID, newest first.
	// A nil actorID returns entries for every actor.
	Recent(ctx context.Context, actorID *string, limit int) ([]*AuditLogEntry, error)

	// Close closes the underlying database
	Close() error
}

func sameActor(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
