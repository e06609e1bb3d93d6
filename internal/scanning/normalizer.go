package scanning

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

var errEmptyDocument = errors.New("document is empty")

// Normalizer turns uploaded bytes into a page count and a single image payload
type Normalizer struct {
	cfg Config
}

// NewNormalizer creates a Normalizer
func NewNormalizer(cfg Config) *Normalizer {
	return &Normalizer{cfg: cfg.withDefaults()}
}

// Normalize produces the payload sent to the model.
// Only the first page of a PDF is rendered; PageCount still counts every page.
func (n *Normalizer) Normalize(doc UploadedDocument) (NormalizedPayload, error) {
	ext := NormalizeExtension(doc.Extension)
	if err := n.check(doc.Data, ext); err != nil {
		return NormalizedPayload{}, err
	}

	if ext == "pdf" {
		return n.normalizePDF(doc.Data)
	}
	return n.normalizeImage(doc.Data, ext)
}

// PageCount returns the number of pages in the document. Images are always one page.
func (n *Normalizer) PageCount(data []byte, ext string) (int, error) {
	ext = NormalizeExtension(ext)
	if err := n.check(data, ext); err != nil {
		return 0, err
	}

	if ext != "pdf" {
		if _, _, err := decodeImageConfig(data); err != nil {
			return 0, &DecodeError{Extension: ext, Err: err}
		}
		return 1, nil
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return 0, &DecodeError{Extension: ext, Err: fmt.Errorf("opening PDF: %w", err)}
	}
	defer doc.Close()

	return doc.NumPage(), nil
}

func (n *Normalizer) check(data []byte, ext string) error {
	if !n.cfg.Allows(ext) {
		return &DecodeError{Extension: ext, Err: fmt.Errorf("unsupported file type %q", ext)}
	}
	if len(data) == 0 {
		return &DecodeError{Extension: ext, Err: errEmptyDocument}
	}
	return nil
}

func (n *Normalizer) normalizePDF(data []byte) (NormalizedPayload, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return NormalizedPayload{}, &DecodeError{Extension: "pdf", Err: fmt.Errorf("opening PDF: %w", err)}
	}
	defer doc.Close()

	pages := doc.NumPage()
	if pages < 1 {
		return NormalizedPayload{}, &DecodeError{Extension: "pdf", Err: errors.New("PDF has no pages")}
	}

	img, err := doc.ImageDPI(0, n.cfg.RenderDPI)
	if err != nil {
		return NormalizedPayload{}, &DecodeError{Extension: "pdf", Err: fmt.Errorf("rendering PDF page: %w", err)}
	}

	png, err := encodePNG(img)
	if err != nil {
		return NormalizedPayload{}, &DecodeError{Extension: "pdf", Err: err}
	}

	return NormalizedPayload{PageCount: pages, MIMEType: "image/png", Data: png}, nil
}

func (n *Normalizer) normalizeImage(data []byte, ext string) (NormalizedPayload, error) {
	// Phones often save HEIC under a .jpg name
	if isHEICFormat(data) {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return NormalizedPayload{}, &DecodeError{Extension: ext, Err: fmt.Errorf("decoding HEIC/HEIF image: %w", err)}
		}
		png, err := encodePNG(img)
		if err != nil {
			return NormalizedPayload{}, &DecodeError{Extension: ext, Err: err}
		}
		return NormalizedPayload{PageCount: 1, MIMEType: "image/png", Data: png}, nil
	}

	_, format, err := decodeImageConfig(data)
	if err != nil {
		return NormalizedPayload{}, &DecodeError{Extension: ext, Err: err}
	}

	// Original bytes are sent unchanged
	return NormalizedPayload{PageCount: 1, MIMEType: "image/" + format, Data: data}, nil
}

func decodeImageConfig(data []byte) (image.Config, string, error) {
	if isHEICFormat(data) {
		cfg, err := heic.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return image.Config{}, "", fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return cfg, "heic", nil
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, "", fmt.Errorf("decoding image: %w", err)
	}
	return cfg, format, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks for an ftyp box with a HEIC-family brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}
