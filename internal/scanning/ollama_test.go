package scanning

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server  *ghttp.Server
		ollama  *Ollama
		payload NormalizedPayload
		gen     *Generation
		err     error
		sent    ollamaChatRequest
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		ollama, err = NewOllama(server.URL(), "llava-test", nil)
		Expect(err).NotTo(HaveOccurred())
		payload = NormalizedPayload{PageCount: 1, MIMEType: "image/png", Data: pngBytes()}
		sent = ollamaChatRequest{}
	})

	AfterEach(func() {
		server.Close()
	})

	captureRequest := func(w http.ResponseWriter, r *http.Request) {
		body, readErr := io.ReadAll(r.Body)
		Expect(readErr).NotTo(HaveOccurred())
		Expect(json.Unmarshal(body, &sent)).To(Succeed())
	}

	JustBeforeEach(func() {
		gen, err = ollama.Generate(context.Background(), Request{
			Instruction: invoicePrompt,
			Payload:     payload,
			Schema:      InvoiceSchema(),
		})
	})

	When("the server answers", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				captureRequest,
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"model":             "llava-test",
					"message":           map[string]any{"role": "assistant", "content": validInvoiceJSON},
					"done":              true,
					"prompt_eval_count": 800,
					"eval_count":        200,
				}),
			))
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return the message content", func() {
			Expect(gen.Text).To(Equal(validInvoiceJSON))
		})

		It("should report usage keyed by model", func() {
			Expect(gen.Usage).To(Equal(Usage{"llava-test": {InputTokens: 800, OutputTokens: 200, TotalTokens: 1000}}))
		})

		It("should attach the image and schema", func() {
			Expect(sent.Model).To(Equal("llava-test"))
			Expect(sent.Messages).To(HaveLen(2))
			Expect(sent.Messages[1].Images).To(ConsistOf(payload.Base64()))
			Expect(sent.Format).To(HaveKey("properties"))
		})
	})

	When("the server returns an error status", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ContainSubstring("status 500")))
			Expect(err).To(MatchError(ContainSubstring("model not loaded")))
		})
	})

	When("the server returns malformed JSON", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, "{not json"))
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ContainSubstring("decoding response")))
		})
	})
})
