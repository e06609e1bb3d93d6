package invoice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/invoice-scanner/internal/scanning"
)

const (
	DefaultAuditLimit = 100
	MaxAuditLimit     = 1000
)

var (
	ErrFileTypeNotAllowed = errors.New("file type not allowed")
	ErrFileTooLarge       = errors.New("file too large")
)

// ExtractionError is returned when a document was accepted but no invoice could be extracted
type ExtractionError struct {
	Outcome scanning.Outcome
}

func (e *ExtractionError) Error() string {
	return e.Outcome.Error
}

func (e *ExtractionError) Unwrap() error {
	return e.Outcome.Err
}

// Processor turns an uploaded document into an extraction outcome
type Processor interface {
	Process(ctx context.Context, doc scanning.UploadedDocument) scanning.Outcome
}

// IDGenerator generates unique IDs for audit entries
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

// Result is the response for a successful extraction
type Result struct {
	ID        string                  `json:"id"`
	Invoice   *scanning.InvoiceRecord `json:"invoice"`
	Usage     scanning.Usage          `json:"usage"`
	PageCount int                     `json:"page_count"`
	Totals    TotalsCheck             `json:"totals"`
}

// Service handles invoice operations
type Service struct {
	processor   Processor
	audit       AuditStore
	results     ResultStore
	cfg         scanning.Config
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with a UUID generator and the wall clock.
// results may be nil to skip archiving.
func NewService(processor Processor, audit AuditStore, results ResultStore, cfg scanning.Config) *Service {
	return NewServiceWithDeps(processor, audit, results, cfg, uuidGenerator{}, defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(processor Processor, audit AuditStore, results ResultStore, cfg scanning.Config, idGen IDGenerator, timeSrc TimeSource) *Service {
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = scanning.DefaultMaxUploadSize
	}
	return &Service{
		processor:   processor,
		audit:       audit,
		results:     results,
		cfg:         cfg,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// ProcessInvoice validates an upload, extracts the invoice and records the attempt.
// Rejected uploads are not audited. Every extraction attempt is, whether it succeeds or not.
func (s *Service) ProcessInvoice(ctx context.Context, actorID *string, fileName string, data []byte) (*Result, error) {
	ext := scanning.NormalizeExtension(filepath.Ext(fileName))
	if ext == "" || !s.cfg.Allows(ext) {
		return nil, fmt.Errorf("%w: %q, allowed types: %s", ErrFileTypeNotAllowed, ext, s.allowedExtensions())
	}
	size := int64(len(data))
	if size > s.cfg.MaxUploadSize {
		return nil, fmt.Errorf("%w: %d bytes, maximum %d", ErrFileTooLarge, size, s.cfg.MaxUploadSize)
	}

	outcome := s.processor.Process(ctx, scanning.UploadedDocument{
		Data:      data,
		Extension: ext,
		FileName:  fileName,
		Size:      size,
	})

	entry := &AuditLogEntry{
		ID:         s.idGenerator.Generate(),
		ActorID:    actorID,
		FileName:   fileName,
		FileSize:   size,
		NumPages:   outcome.PageCount,
		TokensUsed: outcome.Usage.Total(),
		CreatedAt:  s.timeSource.Now(),
		InputData:  map[string]any{"file_name": fileName, "file_size": size},
		OutputData: outcome.Invoice,
	}
	if outcome.OK() {
		entry.Status = StatusSuccess
	} else {
		entry.Status = StatusError
		msg := outcome.Error
		entry.ErrorMessage = &msg
	}

	// The attempt is recorded even if the caller has gone away.
	if err := s.audit.Append(context.WithoutCancel(ctx), entry); err != nil {
		return nil, fmt.Errorf("saving audit entry: %w", err)
	}

	if !outcome.OK() {
		slog.Warn("Invoice extraction failed",
			"id", entry.ID,
			"filename", fileName,
			"file_size", size,
			"error", outcome.Error,
		)
		return nil, &ExtractionError{Outcome: outcome}
	}

	totals := CheckTotals(outcome.Invoice)
	if totals.Status == TotalsInconsistent {
		slog.Warn("Invoice totals do not reconcile",
			"id", entry.ID,
			"calculated", totals.CalculatedTotal,
			"stated", totals.StatedTotal,
		)
	}

	if s.results != nil {
		if _, err := s.results.Save(resultFileName(entry.ID, fileName), outcome.Invoice); err != nil {
			// The audit entry already holds the record
			slog.Error("Failed to archive invoice", "id", entry.ID, "error", err)
		}
	}

	return &Result{
		ID:        entry.ID,
		Invoice:   outcome.Invoice,
		Usage:     outcome.Usage,
		PageCount: outcome.PageCount,
		Totals:    totals,
	}, nil
}

// AuditLogs returns the actor's most recent audit entries, newest first
func (s *Service) AuditLogs(ctx context.Context, actorID *string, limit int) ([]*AuditLogEntry, error) {
	switch {
	case limit <= 0:
		limit = DefaultAuditLimit
	case limit > MaxAuditLimit:
		limit = MaxAuditLimit
	}

	entries, err := s.audit.Recent(ctx, actorID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing audit entries: %w", err)
	}
	return entries, nil
}

// allowedExtensions lists the accepted extensions for error messages
func (s *Service) allowedExtensions() string {
	exts := s.cfg.AllowedExtensions
	if len(exts) == 0 {
		exts = scanning.DefaultConfig().AllowedExtensions
	}
	return strings.Join(exts, ", ")
}
