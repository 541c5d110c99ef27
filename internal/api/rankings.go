package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/leesh5000/picktrend/internal/cluster"
	"github.com/leesh5000/picktrend/internal/ranking"
	"github.com/leesh5000/picktrend/internal/trend"
	"go.uber.org/zap"
)

type rankingResponse struct {
	Period  trend.RankingPeriod  `json:"period"`
	Entries []trend.RankingEntry `json:"entries"`
}

// periodKey reads ?date=2025-03-10 or ?year=&month=&day=; neither means
// the period containing now.
func (h *Handler) periodKey(r *http.Request, kind trend.PeriodKind) (trend.PeriodKey, error) {
	q := r.URL.Query()
	if d := q.Get("date"); d != "" {
		return ranking.ParseKey(kind, d)
	}
	if q.Get("year") == "" {
		return ranking.KeyFor(kind, h.now(), h.loc), nil
	}
	var key trend.PeriodKey
	for _, f := range []struct {
		name string
		dst  *int
	}{{"year", &key.Year}, {"month", &key.Month}, {"day", &key.Day}} {
		s := q.Get(f.name)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return key, errors.Join(ranking.ErrInvalidPeriod, err)
		}
		*f.dst = n
	}
	return key, nil
}

func (h *Handler) getRanking(w http.ResponseWriter, r *http.Request) {
	kind, err := trend.ParsePeriodKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	key, err := h.periodKey(r, kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, ok := queryInt(r, "limit", 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}

	period, entries, err := h.boards.Leaderboard(r.Context(), kind, key)
	switch {
	case errors.Is(err, ranking.ErrInvalidPeriod):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, trend.ErrNotFound):
		writeError(w, http.StatusNotFound, "ranking period not generated")
		return
	case err != nil:
		h.logger.Error("load leaderboard failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	if entries == nil {
		entries = []trend.RankingEntry{}
	}
	writeJSON(w, http.StatusOK, rankingResponse{Period: period, Entries: entries})
}

func (h *Handler) getClusterScore(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid cluster id")
		return
	}
	score, err := h.clusters.Score(r.Context(), id)
	if errors.Is(err, trend.ErrNotFound) {
		writeError(w, http.StatusNotFound, "cluster not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (h *Handler) listClusterScores(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 0)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	scores, err := h.clusters.Scores(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if limit > 0 && len(scores) > limit {
		scores = scores[:limit]
	}
	if scores == nil {
		scores = []cluster.Score{}
	}
	writeJSON(w, http.StatusOK, scores)
}
