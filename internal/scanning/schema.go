package scanning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "invoice.schema.json"

// InvoiceSchema returns the JSON Schema (draft 2020-12) for InvoiceRecord.
// The same map constrains the model output and validates it locally.
// Unknown keys are allowed and ignored on decode.
func InvoiceSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"invoiceNumber":   map[string]any{"type": "integer", "minimum": 1, "description": "Invoice number"},
			"invoiceDate":     map[string]any{"type": "string", "description": "Invoice date exactly as printed"},
			"supplier":        partyProp("Business that issued the invoice"),
			"recipient":       partyProp("Customer the invoice is addressed to"),
			"deliveryCompany": deliveryProp(),
			"items": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items":    itemProp(),
			},
			"totalAmountNis": map[string]any{"type": "number", "minimum": 0, "description": "Grand total in NIS"},
		},
		"required": []string{"invoiceNumber", "invoiceDate", "supplier", "recipient", "items", "totalAmountNis"},
	}
}

func partyProp(description string) map[string]any {
	return map[string]any{
		"type":        "object",
		"description": description,
		"properties": map[string]any{
			"name":    map[string]any{"type": "string"},
			"address": addressProp(),
		},
		"required": []string{"name", "address"},
	}
}

func addressProp() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"street":  map[string]any{"type": "string"},
			"city":    map[string]any{"type": "string"},
			"phone":   nullableString(),
			"fax":     nullableString(),
			"email":   nullableEmail(),
			"license": nullableString(),
		},
		"required": []string{"street", "city"},
	}
}

func deliveryProp() map[string]any {
	return map[string]any{
		"type":        []string{"object", "null"},
		"description": "Delivery company, if one is printed on the invoice",
		"properties": map[string]any{
			"name":  map[string]any{"type": "string"},
			"phone": map[string]any{"type": "string"},
			"email": nullableEmail(),
			"notes": nullableString(),
		},
		"required": []string{"name", "phone"},
	}
}

func itemProp() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"description":   map[string]any{"type": "string"},
			"quantity":      map[string]any{"type": "integer", "minimum": 1},
			"unitPriceNis":  map[string]any{"type": "number", "minimum": 0},
			"totalPriceNis": map[string]any{"type": "number", "minimum": 0},
			"barcode":       nullableString(),
		},
		"required": []string{"description", "quantity", "unitPriceNis", "totalPriceNis"},
	}
}

func nullableString() map[string]any {
	return map[string]any{"type": []string{"string", "null"}}
}

func nullableEmail() map[string]any {
	return map[string]any{"type": []string{"string", "null"}, "format": "email"}
}

var (
	compiledOnce   sync.Once
	compiledSchema *jsonschema.Schema
	compileErr     error
)

func invoiceValidator() (*jsonschema.Schema, error) {
	compiledOnce.Do(func() {
		b, err := json.Marshal(InvoiceSchema())
		if err != nil {
			compileErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true
		if err := compiler.AddResource(schemaURL, bytes.NewReader(b)); err != nil {
			compileErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, compileErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, compileErr
}
