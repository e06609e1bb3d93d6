package invoice

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/zombor/invoice-scanner/internal/scanning"
)

var (
	unsafeNameChars = regexp.MustCompile(`[^\p{L}\p{N}\s\-_]`)
	repeatedSpaces  = regexp.MustCompile(`\s+`)
)

// ResultStore archives extracted invoices
type ResultStore interface {
	// Save writes record under name and returns the stored name
	Save(name string, record *scanning.InvoiceRecord) (string, error)
}

// LocalResultStore writes each extracted invoice as an indented JSON file
type LocalResultStore struct {
	basePath string
}

// NewLocalResultStore creates the output directory if needed
func NewLocalResultStore(basePath string) (*LocalResultStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	return &LocalResultStore{basePath: basePath}, nil
}

func (l *LocalResultStore) Save(name string, record *scanning.InvoiceRecord) (string, error) {
	if record == nil {
		return "", fmt.Errorf("no invoice to save")
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling invoice: %w", err)
	}

	if err := os.WriteFile(filepath.Join(l.basePath, name), data, 0644); err != nil {
		return "", fmt.Errorf("writing invoice: %w", err)
	}
	return name, nil
}

// resultFileName builds "<id>_<sanitized base>.json" for an uploaded file name
func resultFileName(id, fileName string) string {
	return fmt.Sprintf("%s_%s.json", id, sanitizeBaseName(fileName))
}

// sanitizeBaseName strips the extension and anything that is not a letter, digit,
// space, hyphen or underscore, then truncates long phone-generated names.
func sanitizeBaseName(fileName string) string {
	base := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	base = unsafeNameChars.ReplaceAllString(base, "")
	base = strings.TrimSpace(repeatedSpaces.ReplaceAllString(base, " "))

	const maxLen = 50
	if runes := []rune(base); len(runes) > maxLen {
		base = strings.TrimSpace(string(runes[:maxLen]))
	}
	if base == "" {
		base = "invoice"
	}
	return base
}
