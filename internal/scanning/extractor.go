package scanning

import "context"

// invoicePrompt is the fixed instruction shared by all model providers
const invoicePrompt = `You are an expert at extracting structured data from invoices.
Given an invoice image, analyze the document and extract the invoice number, invoice date,
supplier, recipient, delivery company, every line item and the total amount.

If you cannot find a field, use null for that field.
The invoice is usually in Hebrew but can be in English.
Keep the original invoice values exactly as printed. Do not change them and do not translate them.
Return only JSON matching the provided schema.`

// Request is a single multimodal generation request
type Request struct {
	Instruction string
	Payload     NormalizedPayload
	Schema      map[string]any
}

// Generation is the raw structured text returned by a model plus its token usage
type Generation struct {
	Text  string
	Usage Usage
}

// Extractor defines the model boundary used for invoice extraction
type Extractor interface {
	// Name identifies the provider in errors and logs
	Name() string
	// Generate submits the request and returns the model's structured output
	Generate(ctx context.Context, req Request) (*Generation, error)
	// Close closes the extractor and releases resources
	Close() error
}
