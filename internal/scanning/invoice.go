package scanning

// InvoiceRecord contains the validated data extracted from an invoice.
// Monetary fields are in NIS.
type InvoiceRecord struct {
	InvoiceNumber   int              `json:"invoiceNumber"`
	InvoiceDate     string           `json:"invoiceDate"` // kept verbatim, not parsed
	Supplier        Party            `json:"supplier"`
	Recipient       Party            `json:"recipient"`
	DeliveryCompany *DeliveryCompany `json:"deliveryCompany"`
	Items           []LineItem       `json:"items"`
	TotalAmountNis  float64          `json:"totalAmountNis"`
}

// Party is the supplier or recipient of an invoice
type Party struct {
	Name    string  `json:"name"`
	Address Address `json:"address"`
}

type Address struct {
	Street  string  `json:"street"`
	City    string  `json:"city"`
	Phone   *string `json:"phone"`
	Fax     *string `json:"fax"`
	Email   *string `json:"email"`
	License *string `json:"license"`
}

type DeliveryCompany struct {
	Name  string  `json:"name"`
	Phone string  `json:"phone"`
	Email *string `json:"email"`
	Notes *string `json:"notes"`
}

// LineItem is a single row of the invoice
type LineItem struct {
	Description   string  `json:"description"`
	Quantity      int     `json:"quantity"`
	UnitPriceNis  float64 `json:"unitPriceNis"`
	TotalPriceNis float64 `json:"totalPriceNis"`
	Barcode       *string `json:"barcode"`
}

// CalculatedTotal sums the total price of every line item
func (r *InvoiceRecord) CalculatedTotal() float64 {
	var total float64
	for _, item := range r.Items {
		total += item.TotalPriceNis
	}
	return total
}

// TokenCount holds the token counts reported for one model
type TokenCount struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Usage maps a model identifier to its token counts
type Usage map[string]TokenCount

// Total sums TotalTokens across models
func (u Usage) Total() int {
	var total int
	for _, c := range u {
		total += c.TotalTokens
	}
	return total
}

// Outcome is the result of one extraction. Exactly one of Invoice and Error is set.
type Outcome struct {
	Invoice   *InvoiceRecord `json:"invoice"`
	Error     string         `json:"error,omitempty"`
	Usage     Usage          `json:"usage"`
	PageCount int            `json:"page_count"`

	// Err is the typed error behind Error, for errors.As
	Err error `json:"-"`
}

// OK reports whether the extraction produced a record
func (o Outcome) OK() bool {
	return o.Invoice != nil && o.Error == ""
}

func failed(err error, usage Usage, pages int) Outcome {
	if usage == nil {
		usage = Usage{}
	}
	return Outcome{
		Error:     err.Error(),
		Err:       err,
		Usage:     usage,
		PageCount: pages,
	}
}
