package scanning

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// UploadedDocument is a raw upload as received at the request boundary
type UploadedDocument struct {
	Data      []byte
	Extension string
	FileName  string
	Size      int64
}

// NormalizedPayload is the single image handed to the model
type NormalizedPayload struct {
	PageCount int
	MIMEType  string
	Data      []byte
}

// Base64 returns the payload bytes in standard base64
func (p NormalizedPayload) Base64() string {
	return base64.StdEncoding.EncodeToString(p.Data)
}

// DataURI returns the payload as a data: URI embedding its MIME type
func (p NormalizedPayload) DataURI() string {
	return fmt.Sprintf("data:%s;base64,%s", p.MIMEType, p.Base64())
}

// ParseDataURI decodes a URI produced by DataURI
func ParseDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data URI")
	}
	mimeType, encoded, ok := strings.Cut(rest, ";base64,")
	if !ok {
		return "", nil, fmt.Errorf("data URI is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", nil, fmt.Errorf("decoding base64: %w", err)
	}
	return mimeType, data, nil
}
