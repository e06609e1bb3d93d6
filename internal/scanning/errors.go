package scanning

import "fmt"

// DecodeError reports document bytes that cannot be parsed as their declared type
type DecodeError struct {
	Extension string
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s document: %v", e.Extension, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// SchemaValidationError reports model output that does not conform to the invoice schema
type SchemaValidationError struct {
	Err error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("invalid invoice data: %v", e.Err)
}

func (e *SchemaValidationError) Unwrap() error {
	return e.Err
}

// ProviderError reports a failed model call (network, auth, quota or timeout)
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
