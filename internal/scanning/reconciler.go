package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Reconciler turns a normalized payload into a validated InvoiceRecord.
// It holds no per-request state and is safe for concurrent use.
type Reconciler struct {
	cfg        Config
	normalizer *Normalizer
	extractor  Extractor
	logger     *slog.Logger
}

// NewReconciler creates a Reconciler
func NewReconciler(cfg Config, normalizer *Normalizer, extractor Extractor, logger *slog.Logger) *Reconciler {
	cfg = cfg.withDefaults()
	if normalizer == nil {
		normalizer = NewNormalizer(cfg)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		cfg:        cfg,
		normalizer: normalizer,
		extractor:  extractor,
		logger:     logger,
	}
}

// Process normalizes doc and extracts the invoice from its first page.
// Every failure is reported through the Outcome.
func (r *Reconciler) Process(ctx context.Context, doc UploadedDocument) Outcome {
	pages, err := r.normalizer.PageCount(doc.Data, doc.Extension)
	if err != nil {
		r.logger.Warn("Failed to decode document", "filename", doc.FileName, "error", err)
		return failed(err, nil, 0)
	}

	payload, err := r.normalizer.Normalize(doc)
	if err != nil {
		r.logger.Warn("Failed to normalize document", "filename", doc.FileName, "error", err)
		return failed(err, nil, pages)
	}

	out := r.Extract(ctx, payload)
	out.PageCount = pages
	return out
}

// Extract runs the schema-constrained model call and validates the result
func (r *Reconciler) Extract(ctx context.Context, payload NormalizedPayload) (out Outcome) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	gen, err := r.generate(ctx, payload)
	usage := Usage{}
	if gen != nil && gen.Usage != nil {
		usage = gen.Usage
	}
	if err != nil {
		perr := &ProviderError{Provider: r.extractor.Name(), Err: err}
		r.logger.Error("Model call failed",
			"provider", r.extractor.Name(),
			"model", r.cfg.Model,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return failed(perr, usage, payload.PageCount)
	}

	record, err := ParseInvoice(gen.Text)
	if err != nil {
		r.logger.Warn("Model output failed validation",
			"provider", r.extractor.Name(),
			"error", err,
		)
		return failed(err, usage, payload.PageCount)
	}

	r.logger.Info("Invoice extracted",
		"provider", r.extractor.Name(),
		"model", r.cfg.Model,
		"invoice_number", record.InvoiceNumber,
		"items", len(record.Items),
		"total_tokens", usage.Total(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	return Outcome{Invoice: record, Usage: usage, PageCount: payload.PageCount}
}

type generateResult struct {
	gen *Generation
	err error
}

// generate calls the extractor, abandoning it once ctx is done even if the
// provider ignores cancellation. The buffered channel lets a late call finish.
func (r *Reconciler) generate(ctx context.Context, payload NormalizedPayload) (*Generation, error) {
	req := Request{
		Instruction: invoicePrompt,
		Payload:     payload,
		Schema:      InvoiceSchema(),
	}

	done := make(chan generateResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- generateResult{err: fmt.Errorf("provider panic: %v", p)}
			}
		}()
		gen, err := r.extractor.Generate(ctx, req)
		done <- generateResult{gen: gen, err: err}
	}()

	select {
	case res := <-done:
		if errors.Is(res.err, context.DeadlineExceeded) {
			return res.gen, fmt.Errorf("model call timed out: %w", res.err)
		}
		return res.gen, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("model call timed out: %w", ctx.Err())
		}
		return nil, fmt.Errorf("model call abandoned: %w", ctx.Err())
	}
}
