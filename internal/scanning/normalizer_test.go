package scanning

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"github.com/gen2brain/go-fitz"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// buildPDF writes a minimal PDF whose page i has a black square at a different offset
func buildPDF(pages int) []byte {
	var buf bytes.Buffer
	offsets := []int{}
	writeObj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	writeObj("<< /Type /Catalog /Pages 2 0 R >>")

	kids := ""
	for i := 0; i < pages; i++ {
		kids += fmt.Sprintf("%d 0 R ", 3+2*i)
	}
	writeObj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, pages))

	for i := 0; i < pages; i++ {
		writeObj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 200 200] /Contents %d 0 R /Resources << >> >>", 4+2*i))
		stream := fmt.Sprintf("0 0 0 rg %d 20 40 40 re f", 20+50*i)
		writeObj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func renderPage(pdf []byte, page int, dpi float64) []byte {
	doc, err := fitz.NewFromMemory(pdf)
	Expect(err).NotTo(HaveOccurred())
	defer doc.Close()
	img, err := doc.ImageDPI(page, dpi)
	Expect(err).NotTo(HaveOccurred())
	out, err := encodePNG(img)
	Expect(err).NotTo(HaveOccurred())
	return out
}

func testImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		img.Set(x, x, color.RGBA{R: 200, A: 255})
	}
	return img
}

func pngBytes() []byte {
	var buf bytes.Buffer
	Expect(png.Encode(&buf, testImage())).To(Succeed())
	return buf.Bytes()
}

func jpegBytes() []byte {
	var buf bytes.Buffer
	Expect(jpeg.Encode(&buf, testImage(), nil)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("Normalizer", func() {
	var (
		normalizer *Normalizer
		cfg        Config
	)

	BeforeEach(func() {
		cfg = DefaultConfig()
		cfg.RenderDPI = 72
		normalizer = NewNormalizer(cfg)
	})

	Describe("Normalize", func() {
		var (
			doc     UploadedDocument
			payload NormalizedPayload
			err     error
		)

		JustBeforeEach(func() {
			payload, err = normalizer.Normalize(doc)
		})

		When("the document is a PNG", func() {
			var original []byte

			BeforeEach(func() {
				original = pngBytes()
				doc = UploadedDocument{Data: original, Extension: "png", FileName: "a.png", Size: int64(len(original))}
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should report a single page", func() {
				Expect(payload.PageCount).To(Equal(1))
			})

			It("should pass the original bytes through", func() {
				Expect(payload.Data).To(Equal(original))
				Expect(payload.MIMEType).To(Equal("image/png"))
			})

			It("should round-trip through the data URI", func() {
				mimeType, data, parseErr := ParseDataURI(payload.DataURI())
				Expect(parseErr).NotTo(HaveOccurred())
				Expect(mimeType).To(Equal("image/png"))
				Expect(data).To(Equal(original))
			})
		})

		When("the document is a JPEG declared as jpg", func() {
			BeforeEach(func() {
				data := jpegBytes()
				doc = UploadedDocument{Data: data, Extension: ".JPG", FileName: "a.JPG"}
			})

			It("should use the JPEG MIME type", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(payload.MIMEType).To(Equal("image/jpeg"))
				Expect(payload.PageCount).To(Equal(1))
			})
		})

		When("the document is a three page PDF", func() {
			var pdf []byte

			BeforeEach(func() {
				pdf = buildPDF(3)
				doc = UploadedDocument{Data: pdf, Extension: "pdf", FileName: "three.pdf"}
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should count every page", func() {
				Expect(payload.PageCount).To(Equal(3))
			})

			It("should render a PNG, never a PDF", func() {
				Expect(payload.MIMEType).To(Equal("image/png"))
				Expect(payload.DataURI()).To(HavePrefix("data:image/png;base64,"))
			})

			It("should render only the first page", func() {
				Expect(payload.Data).To(Equal(renderPage(pdf, 0, 72)))
				Expect(payload.Data).NotTo(Equal(renderPage(pdf, 1, 72)))
				Expect(payload.Data).NotTo(Equal(renderPage(pdf, 2, 72)))
			})

			It("should be deterministic", func() {
				again, againErr := normalizer.Normalize(doc)
				Expect(againErr).NotTo(HaveOccurred())
				Expect(again.Base64()).To(Equal(payload.Base64()))
			})

			It("should round-trip through the data URI", func() {
				_, data, parseErr := ParseDataURI(payload.DataURI())
				Expect(parseErr).NotTo(HaveOccurred())
				Expect(data).To(Equal(payload.Data))
			})
		})

		When("the PNG bytes are corrupt", func() {
			BeforeEach(func() {
				doc = UploadedDocument{Data: []byte("fake image data"), Extension: "png"}
			})

			It("returns a decode error", func() {
				var derr *DecodeError
				Expect(errors.As(err, &derr)).To(BeTrue())
				Expect(derr.Extension).To(Equal("png"))
			})
		})

		When("the PDF bytes are corrupt", func() {
			BeforeEach(func() {
				doc = UploadedDocument{Data: []byte("fake pdf data"), Extension: "pdf"}
			})

			It("returns a decode error", func() {
				var derr *DecodeError
				Expect(errors.As(err, &derr)).To(BeTrue())
			})
		})

		When("the document is empty", func() {
			BeforeEach(func() {
				doc = UploadedDocument{Extension: "png"}
			})

			It("returns a decode error", func() {
				Expect(errors.Is(err, errEmptyDocument)).To(BeTrue())
			})
		})

		When("the extension is not allowed", func() {
			BeforeEach(func() {
				doc = UploadedDocument{Data: pngBytes(), Extension: "gif"}
			})

			It("returns a decode error", func() {
				var derr *DecodeError
				Expect(errors.As(err, &derr)).To(BeTrue())
				Expect(err.Error()).To(ContainSubstring("unsupported file type"))
			})
		})
	})

	Describe("PageCount", func() {
		It("should return 1 for images", func() {
			n, err := normalizer.PageCount(pngBytes(), "png")
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			n, err = normalizer.PageCount(jpegBytes(), "jpeg")
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))
		})

		It("should count all PDF pages", func() {
			for _, pages := range []int{1, 2, 5} {
				n, err := normalizer.PageCount(buildPDF(pages), "pdf")
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(pages))
			}
		})

		It("returns the error for undecodable images", func() {
			_, err := normalizer.PageCount([]byte("nope"), "jpg")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("isHEICFormat", func() {
		It("should detect HEIC brands", func() {
			data := append([]byte{0, 0, 0, 24}, []byte("ftypheic0000")...)
			Expect(isHEICFormat(data)).To(BeTrue())
		})

		It("should reject other data", func() {
			Expect(isHEICFormat(pngBytes())).To(BeFalse())
			Expect(isHEICFormat([]byte("short"))).To(BeFalse())
		})
	})

	Describe("HEIC bodies under an image extension", func() {
		var truncated []byte

		BeforeEach(func() {
			// ftyp box only, no meta or image data
			truncated = append([]byte{0, 0, 0, 24}, []byte("ftypheic\x00\x00\x00\x00mif1heic")...)
		})

		It("returns a DecodeError from Normalize", func() {
			_, err := normalizer.Normalize(UploadedDocument{Data: truncated, Extension: "jpg", FileName: "IMG_0001.jpg", Size: int64(len(truncated))})
			var derr *DecodeError
			Expect(errors.As(err, &derr)).To(BeTrue())
			Expect(derr.Extension).To(Equal("jpg"))
			Expect(err.Error()).To(ContainSubstring("HEIC"))
		})

		It("returns the error from PageCount", func() {
			_, err := normalizer.PageCount(truncated, "jpg")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("ParseDataURI", func() {
		It("returns the error for non data URIs", func() {
			_, _, err := ParseDataURI("http://example.com/a.png")
			Expect(err).To(HaveOccurred())
		})
	})
})
