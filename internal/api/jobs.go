package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/leesh5000/picktrend/internal/jobs"
	"github.com/leesh5000/picktrend/internal/lock"
	"github.com/leesh5000/picktrend/internal/ranking"
	"github.com/leesh5000/picktrend/internal/trend"
	"go.uber.org/zap"
)

type jobRequest struct {
	Kind    string `json:"kind"`
	Date    string `json:"date"`
	Rebuild bool   `json:"rebuild"`
}

func (h *Handler) runJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var body jobRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := jobs.Request{Kind: trend.PeriodKind(body.Kind), Rebuild: body.Rebuild}
	if body.Date != "" {
		kind := req.Kind
		if kind == "" {
			kind = trend.PeriodDaily
		}
		key, err := ranking.ParseKey(kind, body.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		req.Kind = kind
		req.Key = &key
	}

	rep, err := h.runner.Run(r.Context(), name, req)
	switch {
	case errors.Is(err, jobs.ErrUnknownJob):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ranking.ErrInvalidPeriod):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, lock.ErrNotAcquired):
		writeError(w, http.StatusConflict, "job already running")
	case err != nil:
		h.logger.Error("job failed", zap.String("job", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, rep)
	}
}

func (h *Handler) getJobRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "job tracking not configured")
		return
	}
	run, err := h.runs.Get(r.Context(), chi.URLParam(r, "runID"))
	if errors.Is(err, jobs.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) listJobEvents(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "job tracking not configured")
		return
	}
	limit, ok := queryInt(r, "limit", 20)
	if !ok || limit == 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	events, err := h.runs.Recent(r.Context(), int64(limit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}
