package invoice

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
)

// multipartOverhead leaves room for form boundaries and headers around the file
const multipartOverhead = 1 << 20

// corsError writes a JSON error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleProcessInvoice extracts an invoice from the uploaded "file" field
func (s *Server) handleProcessInvoice(w http.ResponseWriter, r *http.Request) {
	maxSize := s.service.cfg.MaxUploadSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)
	if err := r.ParseMultipartForm(maxSize + multipartOverhead); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			corsError(w, ErrFileTooLarge.Error(), http.StatusBadRequest)
			return
		}
		corsError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		corsError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		corsError(w, "Error reading file", http.StatusInternalServerError)
		return
	}

	result, err := s.service.ProcessInvoice(r.Context(), ActorFromContext(r.Context()), header.Filename, data)
	if err != nil {
		var extractErr *ExtractionError
		switch {
		case errors.Is(err, ErrFileTypeNotAllowed), errors.Is(err, ErrFileTooLarge), errors.As(err, &extractErr):
			corsError(w, err.Error(), http.StatusBadRequest)
		default:
			slog.Error("Error processing invoice", "filename", header.Filename, "error", err)
			corsError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleAuditLogs returns the caller's recent audit entries
func (s *Server) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			corsError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := s.service.AuditLogs(r.Context(), ActorFromContext(r.Context()), limit)
	if err != nil {
		slog.Error("Error listing audit logs", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*AuditLogEntry{}
	}

	writeJSON(w, http.StatusOK, entries)
}
