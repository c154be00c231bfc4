package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"goa.design/clue/log"

	"toolatlas.dev/search/query"
	"toolatlas.dev/search/runtime/pipeline"
	"toolatlas.dev/search/runtime/telemetry"
)

const correlationHeader = "X-Correlation-ID"

type searchRequest struct {
	Query             string `json:"query"`
	EnableCheckpoints bool   `json:"enableCheckpoints,omitempty"`
	SkipCache         bool   `json:"skipCache,omitempty"`
}

type searchResponse struct {
	Candidates  any    `json:"candidates"`
	Reasoning   string `json:"reasoning,omitempty"`
	Stats       any    `json:"stats"`
	Errors      any    `json:"errors,omitempty"`
	Checkpoints any    `json:"checkpoints,omitempty"`
}

type errorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlationId"`
}

// correlationMiddleware assigns or propagates the request correlation id and
// reflects it on the response.
func correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := r.Header.Get(correlationHeader)
		if cid == "" {
			cid = uuid.NewString()
		}
		ctx := telemetry.WithCorrelationID(r.Context(), cid)
		ctx = log.With(ctx, log.KV{K: "correlation_id", V: cid})
		w.Header().Set(correlationHeader, cid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// searcher is the slice of the pipeline driver the handler needs.
type searcher interface {
	Search(ctx context.Context, queryText string, opts pipeline.SearchOptions) (*pipeline.Result, error)
}

// searchHandler decodes a search request, runs the pipeline and renders the
// result. Per-node error details stay in the logs; callers get a sanitized
// message and the correlation id.
func searchHandler(driver searcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid request body")
			return
		}

		res, err := driver.Search(ctx, req.Query, pipeline.SearchOptions{
			EnableCheckpoints: req.EnableCheckpoints,
			SkipCache:         req.SkipCache,
		})
		if err != nil {
			switch {
			case errors.Is(err, pipeline.ErrBadInput):
				writeError(w, r, http.StatusBadRequest, err.Error())
			case errors.Is(err, pipeline.ErrCancelled):
				// the caller went away; nothing useful to write
				log.Info(ctx, log.KV{K: "msg", V: "request cancelled"})
			case errors.Is(err, pipeline.ErrDeadline):
				// budget exhausted: return the partial result with 200
				log.Error(ctx, err, log.KV{K: "msg", V: "request budget exceeded"})
				writeJSON(w, http.StatusOK, toResponse(res))
			default:
				log.Error(ctx, err, log.KV{K: "msg", V: "search failed"})
				writeError(w, r, http.StatusInternalServerError, "request failed")
			}
			return
		}
		writeJSON(w, http.StatusOK, toResponse(res))
	})
}

func toResponse(res *pipeline.Result) searchResponse {
	if res == nil {
		return searchResponse{Candidates: []any{}}
	}
	candidates := res.Candidates
	if candidates == nil {
		candidates = []query.Candidate{}
	}
	out := searchResponse{
		Candidates: candidates,
		Reasoning:  res.Reasoning,
		Stats:      res.Stats,
	}
	if len(res.Errors) > 0 {
		out.Errors = res.Errors
	}
	if len(res.Checkpoints) > 0 {
		out.Checkpoints = res.Checkpoints
	}
	return out
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:         msg,
		CorrelationID: telemetry.CorrelationID(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
