package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/leesh5000/picktrend/internal/cluster"
	"github.com/leesh5000/picktrend/internal/matcher"
	"github.com/leesh5000/picktrend/internal/trend"
	"go.uber.org/zap"
)

type keywordRequest struct {
	Text     string `json:"text"`
	Category string `json:"category"`
	Source   string `json:"source"`
}

type keywordResponse struct {
	Keyword   trend.Keyword `json:"keyword"`
	ClusterID int64         `json:"cluster_id,omitempty"`
	Assigned  bool          `json:"assigned"`
}

// createKeyword stores a keyword and tries to place it into an existing
// cluster right away.
func (h *Handler) createKeyword(w http.ResponseWriter, r *http.Request) {
	var req keywordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	src := trend.SourceManual
	if req.Source != "" {
		src = trend.Source(req.Source)
	}
	if !src.Valid() {
		writeError(w, http.StatusBadRequest, "unknown source "+strconv.Quote(req.Source))
		return
	}

	kw, err := h.store.UpsertKeyword(r.Context(), trend.Keyword{Text: req.Text, Category: req.Category, Source: src})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !kw.Active {
		writeJSON(w, http.StatusCreated, keywordResponse{Keyword: kw})
		return
	}
	clusterID, assigned, err := h.clusters.AssignToExisting(r.Context(), kw.ID, h.clusterCfg)
	if err != nil {
		h.logger.Warn("cluster assignment failed", zap.Int64("keyword_id", kw.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, keywordResponse{Keyword: kw, ClusterID: clusterID, Assigned: assigned})
}

func (h *Handler) deactivateKeyword(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid keyword id")
		return
	}
	if err := h.store.DeactivateKeyword(r.Context(), id); err != nil {
		if errors.Is(err, trend.ErrNotFound) {
			writeError(w, http.StatusNotFound, "keyword not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	removed, err := h.clusters.RemoveKeyword(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deactivated": true, "cluster_removed": removed})
}

type metricRequest struct {
	Source      string     `json:"source"`
	Value       float64    `json:"value"`
	Rank        *int       `json:"rank"`
	CollectedAt *time.Time `json:"collected_at"`
}

func (h *Handler) recordMetric(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid keyword id")
		return
	}
	var req metricRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	src := trend.Source(req.Source)
	if !src.Valid() {
		writeError(w, http.StatusBadRequest, "unknown source "+strconv.Quote(req.Source))
		return
	}
	if req.Value < 0 {
		writeError(w, http.StatusBadRequest, "value must not be negative")
		return
	}
	if _, err := h.store.GetKeyword(r.Context(), id); errors.Is(err, trend.ErrNotFound) {
		writeError(w, http.StatusNotFound, "keyword not found")
		return
	}

	m := trend.Metric{KeywordID: id, Source: src, Value: req.Value, SourceRank: req.Rank, CollectedAt: h.now()}
	if req.CollectedAt != nil {
		m.CollectedAt = *req.CollectedAt
	}
	m, err := h.store.RecordMetric(r.Context(), m)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type matchRequest struct {
	ClearExisting  bool `json:"clear_existing"`
	PreserveManual bool `json:"preserve_manual"`
}

func (h *Handler) matchKeyword(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid keyword id")
		return
	}
	req := matchRequest{PreserveManual: true}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.matcher.MatchKeywordToProducts(r.Context(), id, matcher.MatchOptions{
		ClearExisting:  req.ClearExisting,
		PreserveManual: req.PreserveManual,
	})
	if errors.Is(err, matcher.ErrKeywordNotFound) {
		writeError(w, http.StatusNotFound, "keyword not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) findProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	keyword := q.Get("q")
	if strings.TrimSpace(keyword) == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit, ok := queryInt(r, "limit", 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	var minScore float64
	if s := q.Get("min_score"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 || v > 100 {
			writeError(w, http.StatusBadRequest, "min_score must be within 0..100")
			return
		}
		minScore = v
	}

	found, err := h.matcher.FindMatchingProducts(r.Context(), keyword, matcher.FindOptions{
		Category: q.Get("category"),
		Limit:    limit,
		MinScore: minScore,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if found == nil {
		found = []matcher.Candidate{}
	}
	writeJSON(w, http.StatusOK, found)
}

func (h *Handler) relatedKeywords(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid keyword id")
		return
	}
	limit, ok := queryInt(r, "limit", 10)
	if !ok || limit == 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	if h.related != nil {
		rel, err := h.related.Related(r.Context(), id, limit)
		if err == nil {
			writeJSON(w, http.StatusOK, rel)
			return
		}
		h.logger.Warn("graph lookup failed, using store", zap.Error(err))
	}
	h.relatedFromStore(w, r, id, limit)
}

// relatedFromStore answers the related query from cluster membership
// directly when no graph is configured.
func (h *Handler) relatedFromStore(w http.ResponseWriter, r *http.Request, id int64, limit int) {
	members, err := h.clusters.Siblings(r.Context(), id, limit)
	if errors.Is(err, cluster.ErrKeywordNotFound) {
		writeError(w, http.StatusNotFound, "keyword not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]relatedKeyword, 0, len(members))
	for _, m := range members {
		out = append(out, relatedKeyword{KeywordID: m.KeywordID, Text: m.Keyword.Text, ClusterID: m.ClusterID, Similarity: m.Similarity})
	}
	writeJSON(w, http.StatusOK, out)
}

type relatedKeyword struct {
	KeywordID  int64   `json:"keyword_id"`
	Text       string  `json:"text"`
	ClusterID  int64   `json:"cluster_id"`
	Similarity float64 `json:"similarity"`
}
