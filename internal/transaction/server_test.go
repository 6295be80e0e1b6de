package transaction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/Brownbull/gmni-boletapp-sub015/internal/batch"
	"github.com/Brownbull/gmni-boletapp-sub015/internal/extraction"
)

// stubExtractor is a trivial Extractor for HTTP tests
type stubExtractor struct {
	tx      *extraction.Transaction
	err     error
	lastOpt extraction.Options
}

func (s *stubExtractor) Extract(ctx context.Context, payload []byte, contentType string, opts extraction.Options) (*extraction.Transaction, error) {
	s.lastOpt = opts
	if s.err != nil {
		return nil, s.err
	}
	return s.tx, nil
}

func (s *stubExtractor) Close() error {
	return nil
}

// multipartBatch builds a batch upload body with the given file names
func multipartBatch(fields map[string]string, filenames ...string) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, name := range filenames {
		part, err := writer.CreateFormFile("files", name)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write([]byte("fake image data for " + name))
		Expect(err).NotTo(HaveOccurred())
	}
	for k, v := range fields {
		Expect(writer.WriteField(k, v)).To(Succeed())
	}
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		extractor   *stubExtractor
		service     *Service
		engine      *batch.Engine
		auth        BasicAuth
		credits     CreditConfig
		server      *Server
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server = NewServerWithMux(service, engine, auth, credits, 3, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		extractor = &stubExtractor{
			tx: &extraction.Transaction{
				Merchant: "Lider",
				Date:     "2024-01-10",
				Amount:   129.90,
				Currency: "CLP",
				Category: "groceries",
			},
		}
		service = NewService(db, storage)
		engine = batch.NewEngine(extractor)
		auth = BasicAuth{}
		credits = CreditConfig{Balance: 100}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("POST /api/batches", func() {
		It("processes the uploaded receipts and persists one batch", func() {
			body, contentType := multipartBatch(nil, "a.jpg", "b.jpg")
			resp, err := http.Post(ghttpServer.URL()+"/api/batches", contentType, body)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var payload struct {
				Batch        *BatchRecord   `json:"batch"`
				Transactions []*Transaction `json:"transactions"`
				Results      []batch.Result `json:"results"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&payload)).To(Succeed())

			Expect(payload.Batch.ItemCount).To(Equal(2))
			Expect(payload.Batch.FailedCount).To(BeZero())
			Expect(payload.Transactions).To(HaveLen(2))
			Expect(payload.Results).To(HaveLen(2))
			Expect(db.batches).To(HaveLen(1))
			Expect(db.transactions).To(HaveLen(2))
		})

		It("threads extraction hints through to the extractor", func() {
			body, contentType := multipartBatch(map[string]string{
				"currency":     "CLP",
				"receipt_type": "boleta",
			}, "a.jpg")
			resp, err := http.Post(ghttpServer.URL()+"/api/batches", contentType, body)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()

			Expect(extractor.lastOpt.Currency).To(Equal("CLP"))
			Expect(extractor.lastOpt.ReceiptType).To(Equal("boleta"))
		})

		It("reports partial failure per item without failing the batch", func() {
			extractor.err = errors.New("model unavailable")
			body, contentType := multipartBatch(nil, "a.jpg")
			resp, err := http.Post(ghttpServer.URL()+"/api/batches", contentType, body)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var payload struct {
				Batch   *BatchRecord   `json:"batch"`
				Results []batch.Result `json:"results"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&payload)).To(Succeed())
			Expect(payload.Batch.FailedCount).To(Equal(1))
			Expect(payload.Results[0].Success).To(BeFalse())
		})

		When("no files are attached", func() {
			It("returns a bad request", func() {
				body, contentType := multipartBatch(map[string]string{"currency": "CLP"})
				resp, err := http.Post(ghttpServer.URL()+"/api/batches", contentType, body)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("the credit balance is insufficient", func() {
			BeforeEach(func() {
				credits = CreditConfig{Balance: 1}
				setupServer()
			})

			It("rejects the batch before extraction", func() {
				body, contentType := multipartBatch(nil, "a.jpg", "b.jpg")
				resp, err := http.Post(ghttpServer.URL()+"/api/batches", contentType, body)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusPaymentRequired))
				Expect(db.batches).To(BeEmpty())
			})
		})

		When("the account is premium tier", func() {
			BeforeEach(func() {
				credits = CreditConfig{Balance: 0, Premium: true}
				setupServer()
			})

			It("allows the batch regardless of balance", func() {
				body, contentType := multipartBatch(nil, "a.jpg", "b.jpg")
				resp, err := http.Post(ghttpServer.URL()+"/api/batches", contentType, body)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			})
		})
	})

	Describe("GET /api/session", func() {
		It("returns an idle session before any batch", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/session")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var session batch.Session
			Expect(json.NewDecoder(resp.Body).Decode(&session)).To(Succeed())
			Expect(session.IsProcessing).To(BeFalse())
			Expect(session.States).To(BeEmpty())
		})
	})

	Describe("POST /api/session/cancel", func() {
		It("acknowledges the cancellation request", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/session/cancel", "application/json", nil)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("POST /api/session/retry", func() {
		buildRetry := func(id string) (*bytes.Buffer, string) {
			body := &bytes.Buffer{}
			writer := multipart.NewWriter(body)
			Expect(writer.WriteField("id", id)).To(Succeed())
			part, err := writer.CreateFormFile("file", "retry.jpg")
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write([]byte("retry image data"))
			Expect(err).NotTo(HaveOccurred())
			Expect(writer.Close()).To(Succeed())
			return body, writer.FormDataContentType()
		}

		When("the item is unknown", func() {
			It("returns not found", func() {
				body, contentType := buildRetry("missing-id")
				resp, err := http.Post(ghttpServer.URL()+"/api/session/retry", contentType, body)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})

		When("the id is missing from the form", func() {
			It("returns a bad request", func() {
				body := &bytes.Buffer{}
				writer := multipart.NewWriter(body)
				part, err := writer.CreateFormFile("file", "retry.jpg")
				Expect(err).NotTo(HaveOccurred())
				part.Write([]byte("retry image data"))
				Expect(writer.Close()).To(Succeed())

				resp, err := http.Post(ghttpServer.URL()+"/api/session/retry", writer.FormDataContentType(), body)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("GET /api/transactions/{id}", func() {
		When("the transaction exists", func() {
			BeforeEach(func() {
				db.transactions["tx-1"] = &Transaction{ID: "tx-1", Merchant: "Lider"}
			})

			It("returns it", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/transactions/tx-1")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()

				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var tx Transaction
				Expect(json.NewDecoder(resp.Body).Decode(&tx)).To(Succeed())
				Expect(tx.Merchant).To(Equal("Lider"))
			})
		})

		When("the transaction does not exist", func() {
			It("returns not found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/transactions/missing")
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})
	})

	Describe("DELETE /api/transactions/{id}", func() {
		BeforeEach(func() {
			db.transactions["tx-1"] = &Transaction{ID: "tx-1", Filename: "tx-1_a.jpg"}
			storage.files["tx-1_a.jpg"] = []byte("data")
		})

		It("removes the transaction", func() {
			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/transactions/tx-1", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.transactions).To(BeEmpty())
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "pass"}
			setupServer()
		})

		It("rejects unauthenticated requests", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/transactions")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("accepts valid credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/transactions", nil)
			Expect(err).NotTo(HaveOccurred())
			encoded := base64.StdEncoding.EncodeToString([]byte("user:pass"))
			req.Header.Set("Authorization", "Basic "+encoded)

			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			_, err = io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
