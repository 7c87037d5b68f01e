// Package api exposes the assistant over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fingenie/fingenie/internal/ingest"
	"github.com/fingenie/fingenie/internal/orchestrator"
	"github.com/fingenie/fingenie/internal/storage"
)

const maxChatBodySize = 1 << 20 // 1MB

// Responder answers chat messages.
type Responder interface {
	Respond(ctx context.Context, userID, message string) (orchestrator.Answer, error)
}

// Ingester runs a directory ingestion.
type Ingester interface {
	Ingest(ctx context.Context, dir string) (ingest.Report, error)
}

// DocumentLister reports processed documents.
type DocumentLister interface {
	DocumentCounts() (map[string]int, error)
	ListDocuments(limit int) ([]storage.Document, error)
}

// IndexCounter reports the size of the knowledge index.
type IndexCounter interface {
	Count() (int, error)
}

// AppDeps holds the HTTP layer's dependencies.
type AppDeps struct {
	Responder  Responder
	Pipeline   Ingester
	Docs       DocumentLister
	Index      IndexCounter
	AdminToken string
}

// NewAppHandler builds the HTTP routing tree. Chat and health are open;
// ingestion and status require the admin bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/chat", handleChat(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.AdminToken))
		r.Post("/ingest", handleIngest(deps))
		r.Get("/status", handleStatus(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ChatRequest struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

type ChatResponse struct {
	Reply  string `json:"reply"`
	Intent string `json:"intent"`
	State  string `json:"state"`
}

func handleChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxChatBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}
		if req.UserID == "" {
			req.UserID = "anonymous"
		}

		answer, err := deps.Responder.Respond(r.Context(), req.UserID, req.Message)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to answer: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, ChatResponse{
			Reply:  answer.Text,
			Intent: string(answer.Intent),
			State:  string(answer.State),
		})
	}
}

type IngestRequest struct {
	Dir string `json:"dir"`
}

type IngestResponse struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
	Chunks    int `json:"chunks"`
}

func handleIngest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Dir == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "dir is required")
			return
		}

		report, err := deps.Pipeline.Ingest(r.Context(), req.Dir)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "ingestion failed: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, IngestResponse{
			Processed: report.Processed,
			Errors:    report.Errors,
			Chunks:    report.Chunks,
		})
	}
}

type StatusResponse struct {
	Documents      map[string]int     `json:"documents"`
	TotalDocuments int                `json:"totalDocuments"`
	Vectors        int                `json:"vectors"`
	Recent         []storage.Document `json:"recent"`
}

func handleStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := deps.Docs.DocumentCounts()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load document counts: %v", err)
			return
		}
		total := 0
		for _, n := range counts {
			total += n
		}

		vectors := 0
		if deps.Index != nil {
			if n, err := deps.Index.Count(); err == nil {
				vectors = n
			}
		}

		recent, err := deps.Docs.ListDocuments(10)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, StatusResponse{
			Documents:      counts,
			TotalDocuments: total,
			Vectors:        vectors,
			Recent:         recent,
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
