package transaction

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/Brownbull/gmni-boletapp-sub015/internal/batch"
	"github.com/Brownbull/gmni-boletapp-sub015/internal/credit"
	"github.com/Brownbull/gmni-boletapp-sub015/internal/extraction"
)

// maxFormSize caps multipart uploads (high-resolution phone photos)
const maxFormSize = int64(50 << 20) // 50MB

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// jsonError writes a JSON error body with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes a JSON response body
func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// contentTypeFor determines the content type for an uploaded file,
// falling back to the filename extension
func contentTypeFor(header *multipart.FileHeader) string {
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		ext := strings.ToLower(filepath.Ext(header.Filename))
		switch ext {
		case ".jpg", ".jpeg":
			contentType = "image/jpeg"
		case ".png":
			contentType = "image/png"
		case ".pdf":
			contentType = "application/pdf"
		case ".heic":
			contentType = "image/heic"
		case ".heif":
			contentType = "image/heif"
		default:
			contentType = "application/octet-stream"
		}
	}
	// Normalize content type for common phone formats; HEIC/HEIF MIME
	// types are preserved so the conversion logic can detect them
	return strings.ToLower(strings.TrimSpace(contentType))
}

// readBatchImages collects the uploaded files into batch inputs,
// assigning each a fresh stable ID
func readBatchImages(headers []*multipart.FileHeader) ([]batch.Image, error) {
	images := make([]batch.Image, 0, len(headers))
	for i, header := range headers {
		f, err := header.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		images = append(images, batch.Image{
			ID:          uuid.NewString(),
			Index:       i,
			Payload:     data,
			ContentType: contentTypeFor(header),
		})
	}
	return images, nil
}

// handleStartBatch runs one batch of receipt images to completion and
// persists the aggregated outcome as one atomic record
func (s *Server) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		if err.Error() == "http: request body too large" {
			errorMsg = "Upload is too large. Maximum size is 50MB. Please compress or resize your images."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		jsonError(w, "No files were selected. Please choose at least one receipt image.", http.StatusBadRequest)
		return
	}

	// Credit gate: one credit per image, checked before the engine is
	// touched at all
	sufficiency := credit.Check(s.credits.Balance, len(headers), s.credits.Premium)
	if !sufficiency.Sufficient {
		setCORSHeaders(w)
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":       "Insufficient credits for this batch",
			"sufficiency": sufficiency,
		})
		return
	}

	images, err := readBatchImages(headers)
	if err != nil {
		slog.Error("Error reading uploaded files", "error", err)
		jsonError(w, "Error reading files. Please try again.", http.StatusInternalServerError)
		return
	}

	opts := batch.Options{
		ConcurrencyLimit: s.concurrency,
		Extraction: extraction.Options{
			Currency:    r.FormValue("currency"),
			ReceiptType: r.FormValue("receipt_type"),
		},
	}
	if v := r.FormValue("concurrency"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			opts.ConcurrencyLimit = n
		}
	}

	hooks := batch.Hooks{
		OnItemStart: func(index int) {
			slog.Info("Receipt extraction started", "index", index)
		},
		OnItemSuccess: func(index int, tx *extraction.Transaction) {
			slog.Info("Receipt extracted", "index", index, "merchant", tx.Merchant)
		},
		OnItemError: func(index int, message string) {
			slog.Warn("Receipt extraction failed", "index", index, "error", message)
		},
	}

	var (
		record       *BatchRecord
		transactions []*Transaction
		saveErr      error
	)
	onComplete := func(results []batch.Result, originals []batch.Image) {
		record, transactions, saveErr = s.service.SaveBatch(results, originals)
	}

	results, err := s.engine.Start(r.Context(), images, opts, hooks, onComplete)
	if err != nil {
		slog.Error("Error running batch", "error", err)
		jsonError(w, "Batch processing failed", http.StatusInternalServerError)
		return
	}
	if len(results) == 0 && len(images) > 0 {
		jsonError(w, "A batch is already in progress", http.StatusConflict)
		return
	}
	if saveErr != nil {
		slog.Error("Error persisting batch", "error", saveErr)
		jsonError(w, "Error saving batch results", http.StatusInternalServerError)
		return
	}

	setCORSHeaders(w)
	writeJSON(w, http.StatusCreated, map[string]any{
		"batch":        record,
		"transactions": transactions,
		"results":      results,
	})
}

// handleGetSession returns a snapshot of the active batch session
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

// handleCancelSession requests cooperative cancellation of the active batch
func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	s.engine.Cancel()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// handleResetSession clears the session back to its pre-start state
func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	s.engine.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// handleRetryItem re-runs extraction for one failed item of the
// current session
func (s *Server) handleRetryItem(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		jsonError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	id := r.FormValue("id")
	if id == "" {
		jsonError(w, "Item ID required", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		jsonError(w, "No file was selected. Please choose a file to retry.", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	result, err := s.engine.Retry(r.Context(), id, batch.Image{
		ID:          id,
		Payload:     data,
		ContentType: contentTypeFor(header),
	})
	if err != nil {
		if errors.Is(err, batch.ErrItemNotFound) {
			jsonError(w, "Item not found in current session", http.StatusNotFound)
			return
		}
		slog.Error("Error retrying item", "id", id, "error", err)
		jsonError(w, "Retry failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleListBatchRecords returns a list of all batch records
func (s *Server) handleListBatchRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.service.ListBatchRecords()
	if err != nil {
		slog.Error("Error listing batch records", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleGetBatchRecord returns a single batch record with its transactions
func (s *Server) handleGetBatchRecord(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Batch ID required", http.StatusBadRequest)
		return
	}

	record, transactions, err := s.service.GetBatchRecordWithTransactions(id)
	if err != nil {
		corsError(w, "Batch not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"batch":        record,
		"transactions": transactions,
	})
}

// handleListTransactions returns a list of all transactions
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	transactions, err := s.service.ListTransactions()
	if err != nil {
		slog.Error("Error listing transactions", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, transactions)
}

// handleGetTransaction returns a single transaction
func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Transaction ID required", http.StatusBadRequest)
		return
	}

	tx, err := s.service.GetTransaction(id)
	if err != nil {
		corsError(w, "Transaction not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// handleGetTransactionFile serves the stored image for a transaction
func (s *Server) handleGetTransactionFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Transaction ID required", http.StatusBadRequest)
		return
	}

	data, contentType, err := s.service.GetTransactionFile(id)
	if err != nil {
		corsError(w, "File not found", http.StatusNotFound)
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteTransaction removes a transaction and its stored image
func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		corsError(w, "Transaction ID required", http.StatusBadRequest)
		return
	}

	if err := s.service.DeleteTransaction(id); err != nil {
		corsError(w, "Transaction not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
