package scanning

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// optional string fields that may come back blank instead of null.
// phone is left out since it is required on a delivery company.
var optionalStrings = map[string]bool{
	"fax":     true,
	"email":   true,
	"license": true,
	"notes":   true,
	"barcode": true,
}

// ParseInvoice validates raw model output against the invoice schema and decodes it.
// It never returns a partially populated record.
func ParseInvoice(text string) (*InvoiceRecord, error) {
	raw, err := extractJSONObject(text)
	if err != nil {
		return nil, &SchemaValidationError{Err: err}
	}

	// json.Number keeps integer checks exact during validation
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, &SchemaValidationError{Err: fmt.Errorf("unmarshaling json: %w", err)}
	}
	doc = dropBlankOptionals(doc)

	schema, err := invoiceValidator()
	if err != nil {
		return nil, fmt.Errorf("compiling invoice schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return nil, &SchemaValidationError{Err: fmt.Errorf("%s", describeValidation(verr))}
		}
		return nil, &SchemaValidationError{Err: err}
	}

	cleaned, err := json.Marshal(truncateIntegers(doc))
	if err != nil {
		return nil, &SchemaValidationError{Err: fmt.Errorf("re-encoding json: %w", err)}
	}
	var record InvoiceRecord
	if err := json.Unmarshal(cleaned, &record); err != nil {
		return nil, &SchemaValidationError{Err: fmt.Errorf("unmarshaling invoice: %w", err)}
	}
	return &record, nil
}

// integer fields the schema accepts as integral numbers such as 2.0
var integerFields = map[string]bool{
	"invoiceNumber": true,
	"quantity":      true,
}

// truncateIntegers rewrites integral numbers in integer fields without a fraction
// so they decode into int. It runs after validation.
func truncateIntegers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if n, ok := child.(json.Number); ok && integerFields[k] {
				if f, err := n.Float64(); err == nil && f == math.Trunc(f) && math.Abs(f) <= math.MaxInt32 {
					t[k] = json.Number(strconv.FormatInt(int64(f), 10))
				}
				continue
			}
			t[k] = truncateIntegers(child)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = truncateIntegers(child)
		}
		return t
	}
	return v
}

// extractJSONObject strips markdown fences and any prose around the outermost object
func extractJSONObject(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, errors.New("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return nil, errors.New("invalid JSON object in response")
	}
	return []byte(text[startIdx : endIdx+1]), nil
}

// dropBlankOptionals turns empty optional strings into null so they skip format checks
func dropBlankOptionals(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if s, ok := child.(string); ok && optionalStrings[k] && strings.TrimSpace(s) == "" {
				t[k] = nil
				continue
			}
			t[k] = dropBlankOptionals(child)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = dropBlankOptionals(child)
		}
		return t
	}
	return v
}

// describeValidation flattens the validation tree into its leaf messages
func describeValidation(verr *jsonschema.ValidationError) string {
	var msgs []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			msgs = append(msgs, fmt.Sprintf("%s: %s", loc, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(verr)
	return strings.Join(msgs, "; ")
}
