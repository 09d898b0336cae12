package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server  *ghttp.Server
		backend *Ollama
		req     *Request
		resp    *Response
		err     error
		sent    ollamaChatRequest
		pngData []byte
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		var buf bytes.Buffer
		Expect(png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2)))).To(Succeed())
		pngData = buf.Bytes()
		req = &Request{
			Messages: []Message{
				{Role: RoleSystem, Parts: []Part{{Type: PartText, Text: "instructions"}}},
				{Role: RoleUser, Parts: []Part{
					{Type: PartText, Text: "extract"},
					{Type: PartImage, MIMEType: "image/png", Data: pngData},
				}},
			},
			Tools: []Tool{CreateTransactionsTool()},
		}
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		backend = NewOllama(server.URL(), "qwen2.5vl")
		resp, err = backend.Complete(context.Background(), req)
	})

	When("the model calls the tool", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("POST", "/api/chat"),
				func(w http.ResponseWriter, r *http.Request) {
					body, _ := io.ReadAll(r.Body)
					Expect(json.Unmarshal(body, &sent)).To(Succeed())
				},
				ghttp.RespondWith(http.StatusOK, `{
					"message": {
						"role": "assistant",
						"content": "",
						"tool_calls": [{"function": {"name": "create_transactions", "arguments": {"transactions": [{"description": "Pão", "amount": 8.9}]}}}]
					},
					"done": true
				}`),
			))
		})

		It("returns object arguments", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Choices).To(HaveLen(1))
			calls := resp.Choices[0].Message.ToolCalls
			Expect(calls).To(HaveLen(1))
			Expect(string(calls[0].Arguments)).To(HavePrefix("{"))
		})

		It("sends images on the message and tools on the request", func() {
			Expect(sent.Model).To(Equal("qwen2.5vl"))
			Expect(sent.Stream).To(BeFalse())
			Expect(sent.Tools).To(HaveLen(1))
			Expect(sent.Tools[0].Function.Name).To(Equal(ToolName))
			Expect(sent.Messages).To(HaveLen(2))
			Expect(sent.Messages[1].Content).To(Equal("extract"))
			Expect(sent.Messages[1].Images).To(ConsistOf(base64.StdEncoding.EncodeToString(pngData)))
		})

		It("normalizes end to end", func() {
			candidates, nerr := Normalize(resp, backendNow)
			Expect(nerr).NotTo(HaveOccurred())
			Expect(candidates).To(HaveLen(1))
			Expect(candidates[0].Description).To(Equal("Pão"))
		})
	})

	When("the server errors", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, `{"error":"model not found"}`))
		})

		It("returns ErrUpstreamUnavailable", func() {
			Expect(err).To(MatchError(ErrUpstreamUnavailable))
			Expect(err.Error()).To(ContainSubstring("model not found"))
		})
	})

	When("an attached PDF cannot be rendered", func() {
		BeforeEach(func() {
			req.Messages[1].Parts[1] = Part{Type: PartFile, Filename: "broken.pdf", MIMEType: "application/pdf", Data: []byte("not a pdf")}
		})

		It("fails with ErrConversionFailure without calling the server", func() {
			Expect(err).To(MatchError(ErrConversionFailure))
			Expect(server.ReceivedRequests()).To(BeEmpty())
		})
	})
})
