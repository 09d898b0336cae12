package ledger

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/zombor/meubolso/internal/extraction"
)

// writeJSON encodes v with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// statusFor maps classified failures to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidTransaction):
		return http.StatusBadRequest
	case errors.Is(err, extraction.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, extraction.ErrConversionFailure),
		errors.Is(err, extraction.ErrModelNoResponse),
		errors.Is(err, extraction.ErrModelDidNotCallTool),
		errors.Is(err, extraction.ErrMalformedToolArguments),
		errors.Is(err, extraction.ErrInvalidTransactionDate):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// userID reads the owning user from the query string
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("userId")
	if id == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return "", false
	}
	return id, true
}

// handleImport accepts a multipart upload and runs the import pipeline
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	// room for the multipart envelope on top of the file itself
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File is too large")
			return
		}
		slog.Error("Error parsing multipart form", "error", err)
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer f.Close()

	if header.Size > s.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "File is too large")
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "File is empty")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = extraction.DetectContentType(header.Filename)
	}

	result, err := s.service.UploadImport(r.Context(), uid, header.Filename, contentType, data)
	if err != nil {
		slog.Error("Error importing file", "filename", header.Filename, "error", err)
		body := map[string]string{"error": err.Error()}
		if result != nil {
			body["jobId"] = result.JobID
		}
		writeJSON(w, statusFor(err), body)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// handleListTransactions returns the user's transactions, optionally for one month
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	var month, year int
	q := r.URL.Query()
	if q.Get("month") != "" || q.Get("year") != "" {
		var merr, yerr error
		month, merr = strconv.Atoi(q.Get("month"))
		year, yerr = strconv.Atoi(q.Get("year"))
		if merr != nil || yerr != nil || month < 1 || month > 12 {
			writeError(w, http.StatusBadRequest, "month and year must be given together")
			return
		}
	}

	txs, err := s.service.ListTransactions(uid, month, year)
	if err != nil {
		slog.Error("Error listing transactions", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// handleCreateTransaction records a manual entry
func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	var in TransactionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	t, err := s.service.CreateTransaction(uid, in)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// handleUpdateTransaction applies a partial edit to one of the user's transactions
func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	var in TransactionUpdate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	t, err := s.service.UpdateTransaction(uid, r.PathValue("id"), in)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			slog.Error("Error updating transaction", "id", r.PathValue("id"), "error", err)
		}
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleDeleteTransaction deletes one of the user's transactions
func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteTransaction(uid, r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), "Error deleting transaction")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListImports returns the user's import jobs
func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	jobs, err := s.service.ListImportJobs(uid)
	if err != nil {
		slog.Error("Error listing import jobs", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// handleGetImport returns a single import job
func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	job, err := s.service.GetImportJob(uid, r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), "Import not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleDeleteImport deletes an import job and its upload
func (s *Server) handleDeleteImport(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	if err := s.service.DeleteImportJob(uid, r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), "Error deleting import")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
