package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/shopspring/decimal"

	"github.com/zombor/meubolso/internal/extraction"
)

func multipartUpload(url, filename string, data []byte) *http.Request {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())

	req, err := http.NewRequest("POST", url, body)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		extractor   *mockExtractor
		auth        BasicAuth
		maxUpload   int64
		server      *Server
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		extractor = &mockExtractor{candidates: []extraction.Candidate{candidate("Coffee", "12.5")}}
		auth = BasicAuth{}
		maxUpload = 1 << 20
	})

	JustBeforeEach(func() {
		clock := &mockTimeSource{now: time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)}
		service := NewServiceWithDeps(db, extractor, storage, &sequenceIDGenerator{}, clock)
		server = NewServerWithMux(service, auth, maxUpload, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AllowUnhandledRequests = false
		ghttpServer.RouteToHandler("GET", "/health", server.ServeHTTP)
		ghttpServer.AppendHandlers(server.ServeHTTP, server.ServeHTTP)
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	Describe("POST /api/transactions/import", func() {
		It("imports the upload", func() {
			resp, err := http.DefaultClient.Do(multipartUpload(ghttpServer.URL()+"/api/transactions/import?userId=u1", "extrato.pdf", []byte("%PDF")))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var result ImportResult
			Expect(json.NewDecoder(resp.Body).Decode(&result)).To(Succeed())
			Expect(result.Created).To(Equal(1))
			Expect(result.JobID).NotTo(BeEmpty())
			Expect(extractor.docs[0].ContentType).To(Equal("application/pdf"))
		})

		It("requires a user", func() {
			resp, err := http.DefaultClient.Do(multipartUpload(ghttpServer.URL()+"/api/transactions/import", "extrato.pdf", []byte("%PDF")))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		When("the file exceeds the cap", func() {
			BeforeEach(func() {
				maxUpload = 16
			})

			It("returns 413", func() {
				resp, err := http.DefaultClient.Do(multipartUpload(ghttpServer.URL()+"/api/transactions/import?userId=u1", "big.csv", bytes.Repeat([]byte("a"), 64)))
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusRequestEntityTooLarge))
				Expect(extractor.docs).To(BeEmpty())
			})
		})

		DescribeTable("mapping failures to status codes",
			func(failure error, status int) {
				extractor.err = failure
				resp, err := http.DefaultClient.Do(multipartUpload(ghttpServer.URL()+"/api/transactions/import?userId=u1", "a.csv", []byte("x")))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(status))
				var body map[string]string
				Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
				Expect(body["error"]).To(Equal(failure.Error()))
				Expect(body["jobId"]).NotTo(BeEmpty())
				Expect(db.jobs[body["jobId"]].Status).To(Equal(JobFailed))
			},
			Entry("upstream", extraction.ErrUpstreamUnavailable, http.StatusBadGateway),
			Entry("no choices", extraction.ErrModelNoResponse, http.StatusUnprocessableEntity),
			Entry("no tool call", &extraction.NoToolCallError{Content: "hi"}, http.StatusUnprocessableEntity),
			Entry("conversion", extraction.ErrConversionFailure, http.StatusUnprocessableEntity),
			Entry("bad date", &extraction.DateError{Value: "ontem"}, http.StatusUnprocessableEntity),
			Entry("unclassified", errors.New("boom"), http.StatusInternalServerError),
		)
	})

	Describe("transactions", func() {
		It("creates and lists manual transactions", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/transactions?userId=u1", "application/json",
				strings.NewReader(`{"description":"Mercado","amount":"45.90","type":"EXPENSE","category":"Casa","date":"2024-03-02"}`))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			resp, err = http.Get(ghttpServer.URL() + "/api/transactions?userId=u1&month=3&year=2024")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var txs []Transaction
			Expect(json.NewDecoder(resp.Body).Decode(&txs)).To(Succeed())
			Expect(txs).To(HaveLen(1))
			Expect(txs[0].Description).To(Equal("Mercado"))
			Expect(txs[0].Source).To(Equal(SourceManual))
		})

		It("rejects invalid entries", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/transactions?userId=u1", "application/json",
				strings.NewReader(`{"description":"","amount":1}`))
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects a lone month", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/transactions?userId=u1&month=3")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		Describe("PUT /api/transactions/{id}", func() {
			BeforeEach(func() {
				db.transactions["t1"] = &Transaction{
					ID:          "t1",
					UserID:      "u1",
					Description: "Mercado",
					Amount:      decimal.RequireFromString("45.90"),
					Type:        extraction.Expense,
					Category:    "Casa",
					Source:      SourceManual,
				}
			})

			put := func(url, body string) *http.Response {
				req, err := http.NewRequest("PUT", url, strings.NewReader(body))
				Expect(err).NotTo(HaveOccurred())
				req.Header.Set("Content-Type", "application/json")
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				return resp
			}

			It("applies a partial update", func() {
				resp := put(ghttpServer.URL()+"/api/transactions/t1?userId=u1", `{"category":"Alimentação","isRecurring":true}`)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var t Transaction
				Expect(json.NewDecoder(resp.Body).Decode(&t)).To(Succeed())
				Expect(t.Category).To(Equal("Alimentação"))
				Expect(t.IsRecurring).To(BeTrue())
				Expect(t.Description).To(Equal("Mercado"))
				Expect(t.Amount.Equal(decimal.RequireFromString("45.9"))).To(BeTrue())
			})

			It("rejects invalid edits", func() {
				resp := put(ghttpServer.URL()+"/api/transactions/t1?userId=u1", `{"type":"TRANSFER"}`)
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(db.transactions["t1"].Type).To(Equal(extraction.Expense))
			})

			It("does not edit another user's transaction", func() {
				resp := put(ghttpServer.URL()+"/api/transactions/t1?userId=u2", `{"description":"hijack"}`)
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				Expect(db.transactions["t1"].Description).To(Equal("Mercado"))
			})
		})

		It("returns 404 when deleting an unknown transaction", func() {
			req, err := http.NewRequest("DELETE", ghttpServer.URL()+"/api/transactions/nope?userId=u1", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("imports", func() {
		BeforeEach(func() {
			db.jobs["j1"] = &ImportJob{ID: "j1", UserID: "u1", Status: JobDone, FilePath: "j1.pdf"}
			storage.files["j1.pdf"] = []byte("%PDF")
		})

		It("lists and fetches jobs", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/imports?userId=u1")
			Expect(err).NotTo(HaveOccurred())
			var jobs []ImportJob
			Expect(json.NewDecoder(resp.Body).Decode(&jobs)).To(Succeed())
			resp.Body.Close()
			Expect(jobs).To(HaveLen(1))

			resp, err = http.Get(ghttpServer.URL() + "/api/imports/j1?userId=u1")
			Expect(err).NotTo(HaveOccurred())
			var job ImportJob
			Expect(json.NewDecoder(resp.Body).Decode(&job)).To(Succeed())
			resp.Body.Close()
			Expect(job.Status).To(Equal(JobDone))
		})

		It("deletes a job", func() {
			req, err := http.NewRequest("DELETE", ghttpServer.URL()+"/api/imports/j1?userId=u1", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.jobs).To(BeEmpty())
			Expect(storage.files).To(BeEmpty())
		})

		It("requires a user for a single job", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/imports/j1")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("does not show another user's job", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/imports/j1?userId=u2")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).NotTo(ContainSubstring("j1.pdf"))
		})

		It("does not delete another user's job", func() {
			req, err := http.NewRequest("DELETE", ghttpServer.URL()+"/api/imports/j1?userId=u2", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(db.jobs).To(HaveKey("j1"))
			Expect(storage.files).To(HaveKey("j1.pdf"))
		})
	})

	When("basic auth is configured", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "ana", Password: "s3cret"}
		})

		It("rejects anonymous requests", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/imports?userId=u1")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("accepts valid credentials", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/imports?userId=u1", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("ana", "s3cret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("keeps the health check open", func() {
			resp, err := http.Get(ghttpServer.URL() + "/health")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	It("answers CORS preflight requests", func() {
		req, err := http.NewRequest("OPTIONS", ghttpServer.URL()+"/api/transactions", nil)
		Expect(err).NotTo(HaveOccurred())
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
	})
})
