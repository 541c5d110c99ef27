package ranking

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/leesh5000/picktrend/internal/store/memstore"
	"github.com/leesh5000/picktrend/internal/trend"
	"go.uber.org/zap"
)

var (
	now   = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	today = trend.PeriodKey{Year: 2025, Month: 3, Day: 10}
)

type env struct {
	t   *testing.T
	st  *memstore.Store
	gen *Generator
	ctx context.Context
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := memstore.New()
	gen := New(st, Config{Location: time.UTC, ExcludedSources: DefaultExcludedSources()}, zap.NewNop())
	gen.SetClock(func() time.Time { return now })
	return &env{t: t, st: st, gen: gen, ctx: context.Background()}
}

func (e *env) keyword(text string, src trend.Source) trend.Keyword {
	e.t.Helper()
	k, err := e.st.UpsertKeyword(e.ctx, trend.Keyword{Text: text, Source: src})
	if err != nil {
		e.t.Fatalf("UpsertKeyword: %v", err)
	}
	return k
}

func (e *env) metric(k trend.Keyword, value float64, at time.Time) {
	e.t.Helper()
	if _, err := e.st.RecordMetric(e.ctx, trend.Metric{KeywordID: k.ID, Source: k.Source, Value: value, CollectedAt: at}); err != nil {
		e.t.Fatalf("RecordMetric: %v", err)
	}
}

func (e *env) products(k trend.Keyword, n int) {
	e.t.Helper()
	var ms []trend.ProductMatch
	for i := 0; i < n; i++ {
		p, err := e.st.SaveProduct(e.ctx, trend.Product{Name: fmt.Sprintf("%s 상품 %d", k.Text, i), Active: true})
		if err != nil {
			e.t.Fatalf("SaveProduct: %v", err)
		}
		ms = append(ms, trend.ProductMatch{ProductID: p.ID, Score: 50, Type: trend.MatchPartial})
	}
	if err := e.st.ApplyMatches(e.ctx, k.ID, false, ms); err != nil {
		e.t.Fatalf("ApplyMatches: %v", err)
	}
}

func (e *env) generate(kind trend.PeriodKind, key trend.PeriodKey) (Result, []trend.RankingEntry) {
	e.t.Helper()
	res, err := e.gen.Generate(e.ctx, kind, key)
	if err != nil {
		e.t.Fatalf("Generate: %v", err)
	}
	entries, err := e.st.RankingEntries(e.ctx, res.PeriodID)
	if err != nil {
		e.t.Fatalf("RankingEntries: %v", err)
	}
	return res, entries
}

func TestBonusTiers(t *testing.T) {
	recency := []struct {
		hours float64
		want  float64
	}{{0, 10}, {6, 10}, {6.01, 7}, {24, 7}, {24.5, 4}, {72, 4}, {72.1, 2}, {168, 2}, {168.1, 0}}
	for _, c := range recency {
		if got := RecencyBonus(c.hours); got != c.want {
			t.Errorf("RecencyBonus(%v) = %v, want %v", c.hours, got, c.want)
		}
	}
	consistency := []struct {
		n    int
		want float64
	}{{0, 0}, {1, 0}, {2, 2}, {4, 2}, {5, 4}, {9, 4}, {10, 7}, {19, 7}, {20, 10}, {30, 10}}
	for _, c := range consistency {
		if got := ConsistencyBonus(c.n); got != c.want {
			t.Errorf("ConsistencyBonus(%d) = %v, want %v", c.n, got, c.want)
		}
	}
	product := []struct {
		n    int
		want float64
	}{{0, 0}, {1, 1}, {2, 1}, {3, 3}, {4, 3}, {5, 5}, {9, 5}}
	for _, c := range product {
		if got := ProductBonus(c.n); got != c.want {
			t.Errorf("ProductBonus(%d) = %v, want %v", c.n, got, c.want)
		}
	}
}

func TestGenerateEndToEnd(t *testing.T) {
	e := newEnv(t)
	a := e.keyword("아이폰16", trend.SourceGoogleTrends)
	b := e.keyword("갤럭시 S25", trend.SourceNaverDataLab)
	community := e.keyword("역대급 핫딜", trend.SourceDCInside)
	e.keyword("수집만 된 키워드", trend.SourceManual) // no metrics

	// A: one metric 25h old -> 80 + 4 + 0 + 0 = 84
	e.metric(a, 80, now.Add(-25*time.Hour))
	// B: 25 metrics in the last day, newest 1h old -> 60 + 10 + 10 + 5 = 85
	for i := 0; i < 25; i++ {
		e.metric(b, 60, now.Add(-time.Hour-time.Duration(i)*30*time.Minute))
	}
	e.products(b, 6)
	e.metric(community, 100, now.Add(-time.Minute))

	res, entries := e.generate(trend.PeriodDaily, today)
	if res.RankingsCreated != 2 || len(res.Errors) != 0 {
		t.Fatalf("result = %+v", res)
	}
	if entries[0].KeywordID != b.ID || entries[0].Score != 85 || entries[0].ProductCount != 6 {
		t.Fatalf("rank 1 = %+v, want B with 85", entries[0])
	}
	if entries[1].KeywordID != a.ID || entries[1].Score != 84 || entries[1].Signal != 80 {
		t.Fatalf("rank 2 = %+v, want A with 84", entries[1])
	}
	for i, en := range entries {
		if en.Rank != i+1 {
			t.Errorf("entry %d has rank %d", i, en.Rank)
		}
		if !en.IsNew() {
			t.Errorf("entry %d should be new without a previous period", i)
		}
	}
}

func TestGenerateRecencyBoundaryFlipsOrder(t *testing.T) {
	e := newEnv(t)
	a := e.keyword("아이폰16", trend.SourceGoogleTrends)
	b := e.keyword("갤럭시 S25", trend.SourceNaverDataLab)

	// exactly 24h: still the 7 tier -> 87 beats B's 85
	e.metric(a, 80, now.Add(-24*time.Hour))
	for i := 0; i < 25; i++ {
		e.metric(b, 60, now.Add(-time.Hour-time.Duration(i)*30*time.Minute))
	}
	e.products(b, 6)

	_, entries := e.generate(trend.PeriodDaily, today)
	if entries[0].KeywordID != a.ID || entries[0].Score != 87 {
		t.Fatalf("rank 1 = %+v, want A with 87", entries[0])
	}
}

func TestGenerateScoreBounds(t *testing.T) {
	e := newEnv(t)
	k := e.keyword("폭주 키워드", trend.SourceGoogleTrends)
	for i := 0; i < 40; i++ {
		e.metric(k, 250, now.Add(-time.Duration(i)*time.Minute))
	}
	e.products(k, 10)

	_, entries := e.generate(trend.PeriodDaily, today)
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	if entries[0].Score != 125 {
		t.Fatalf("score = %v, want 125 (base capped at 100)", entries[0].Score)
	}
	if entries[0].Signal != 250 {
		t.Fatalf("signal = %v, want raw value kept", entries[0].Signal)
	}
}

func TestGenerateDeterministic(t *testing.T) {
	e := newEnv(t)
	for i, v := range []float64{50, 70, 70, 30} {
		k := e.keyword(fmt.Sprintf("키워드 %d", i), trend.SourceGoogleTrends)
		e.metric(k, v, now.Add(-2*time.Hour))
	}

	r1, first := e.generate(trend.PeriodDaily, today)
	r2, second := e.generate(trend.PeriodDaily, today)
	if r1.PeriodID != r2.PeriodID {
		t.Fatalf("period duplicated: %d vs %d", r1.PeriodID, r2.PeriodID)
	}
	if len(first) != len(second) {
		t.Fatalf("entry counts differ")
	}
	for i := range first {
		if first[i].KeywordID != second[i].KeywordID || first[i].Rank != second[i].Rank || first[i].Score != second[i].Score {
			t.Fatalf("entry %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
	// equal scores fall back to keyword id
	if first[0].Score != first[1].Score || first[0].KeywordID > first[1].KeywordID {
		t.Fatalf("tie not broken by id: %+v %+v", first[0], first[1])
	}
}

func TestGenerateRankDelta(t *testing.T) {
	e := newEnv(t)
	var kws []trend.Keyword
	for i := 0; i < 10; i++ {
		kws = append(kws, e.keyword(fmt.Sprintf("키워드 %02d", i), trend.SourceGoogleTrends))
	}
	mover := kws[9]

	// yesterday: mover is 10th of 10
	yesterday := trend.PeriodKey{Year: 2025, Month: 3, Day: 9}
	_, start, end, _ := Bounds(trend.PeriodDaily, yesterday, time.UTC)
	prev, err := e.st.EnsurePeriod(e.ctx, trend.RankingPeriod{Kind: trend.PeriodDaily, Key: yesterday, StartAt: start, EndAt: end})
	if err != nil {
		t.Fatalf("EnsurePeriod: %v", err)
	}
	var prevEntries []trend.RankingEntry
	for i, k := range kws[:9] {
		prevEntries = append(prevEntries, trend.RankingEntry{KeywordID: k.ID, Rank: i + 1})
	}
	prevEntries = append(prevEntries, trend.RankingEntry{KeywordID: mover.ID, Rank: 10})
	if err := e.st.ReplaceRankingEntries(e.ctx, prev.ID, prevEntries); err != nil {
		t.Fatalf("ReplaceRankingEntries: %v", err)
	}

	// today: three keywords beat the mover, one newcomer below it
	for i, k := range kws[:3] {
		e.metric(k, float64(90-i), now.Add(-time.Hour))
	}
	e.metric(mover, 80, now.Add(-time.Hour))
	newcomer := e.keyword("신규 키워드", trend.SourceGoogleTrends)
	e.metric(newcomer, 10, now.Add(-time.Hour))

	_, entries := e.generate(trend.PeriodDaily, today)
	var moverEntry, newEntry *trend.RankingEntry
	for i := range entries {
		switch entries[i].KeywordID {
		case mover.ID:
			moverEntry = &entries[i]
		case newcomer.ID:
			newEntry = &entries[i]
		}
	}
	if moverEntry == nil || moverEntry.Rank != 4 {
		t.Fatalf("mover entry = %+v, want rank 4", moverEntry)
	}
	if moverEntry.PreviousRank == nil || *moverEntry.PreviousRank != 10 || moverEntry.RankChange() != 6 {
		t.Fatalf("mover previous rank = %v", moverEntry.PreviousRank)
	}
	if newEntry == nil || newEntry.PreviousRank != nil || !newEntry.IsNew() {
		t.Fatalf("newcomer entry = %+v, want no previous rank", newEntry)
	}
}

func TestGenerateMonthlyUsesPreviousYearDecember(t *testing.T) {
	e := newEnv(t)
	e.gen.SetClock(func() time.Time { return time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC) })
	k := e.keyword("연말정산", trend.SourceNaverDataLab)

	dec := trend.PeriodKey{Year: 2024, Month: 12}
	_, start, end, _ := Bounds(trend.PeriodMonthly, dec, time.UTC)
	prev, _ := e.st.EnsurePeriod(e.ctx, trend.RankingPeriod{Kind: trend.PeriodMonthly, Key: dec, StartAt: start, EndAt: end})
	e.st.ReplaceRankingEntries(e.ctx, prev.ID, []trend.RankingEntry{{KeywordID: k.ID, Rank: 3}})

	e.metric(k, 70, time.Date(2025, 1, 19, 0, 0, 0, 0, time.UTC))
	_, entries := e.generate(trend.PeriodMonthly, trend.PeriodKey{Year: 2025, Month: 1})
	if len(entries) != 1 || entries[0].PreviousRank == nil || *entries[0].PreviousRank != 3 {
		t.Fatalf("entries = %+v, want previous rank 3 from December", entries)
	}
}

func TestGeneratePastPeriodIgnoresLaterMetrics(t *testing.T) {
	e := newEnv(t)
	k := e.keyword("지난주 키워드", trend.SourceGoogleTrends)
	e.metric(k, 40, time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC))
	e.metric(k, 95, now.Add(-time.Hour))

	_, entries := e.generate(trend.PeriodDaily, trend.PeriodKey{Year: 2025, Month: 3, Day: 3})
	if len(entries) != 1 || entries[0].Signal != 40 {
		t.Fatalf("entries = %+v, want the metric inside the period", entries)
	}
	// 12h before the end of that day
	if entries[0].Score != 47 {
		t.Fatalf("score = %v, want 40 + 7", entries[0].Score)
	}
}

type failingMatchCount struct {
	*memstore.Store
	bad int64
}

func (f *failingMatchCount) ActiveMatchCount(ctx context.Context, id int64) (int, error) {
	if id == f.bad {
		return 0, errors.New("boom")
	}
	return f.Store.ActiveMatchCount(ctx, id)
}

func TestGenerateOmitsFailedKeyword(t *testing.T) {
	e := newEnv(t)
	good := e.keyword("정상", trend.SourceGoogleTrends)
	bad := e.keyword("오류", trend.SourceGoogleTrends)
	e.metric(good, 50, now.Add(-time.Hour))
	e.metric(bad, 90, now.Add(-time.Hour))

	gen := New(&failingMatchCount{Store: e.st, bad: bad.ID}, Config{Location: time.UTC}, zap.NewNop())
	gen.SetClock(func() time.Time { return now })
	res, err := gen.Generate(e.ctx, trend.PeriodDaily, today)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.RankingsCreated != 1 || len(res.Errors) != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestGenerateInvalidPeriod(t *testing.T) {
	e := newEnv(t)
	_, err := e.gen.Generate(e.ctx, trend.PeriodDaily, trend.PeriodKey{Year: 2025, Month: 2, Day: 30})
	if !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("err = %v, want ErrInvalidPeriod", err)
	}
	if _, err := e.st.FindPeriod(e.ctx, trend.PeriodDaily, trend.PeriodKey{Year: 2025, Month: 2, Day: 30}); !errors.Is(err, trend.ErrNotFound) {
		t.Fatal("invalid period was stored")
	}
}

func TestLeaderboard(t *testing.T) {
	e := newEnv(t)
	k := e.keyword("아이폰16", trend.SourceGoogleTrends)
	e.metric(k, 80, now.Add(-time.Hour))
	e.generate(trend.PeriodDaily, today)

	p, entries, err := e.gen.Leaderboard(e.ctx, trend.PeriodDaily, today)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if p.Key != today || len(entries) != 1 || entries[0].Keyword != "아이폰16" {
		t.Fatalf("Leaderboard = %+v %+v", p, entries)
	}
	if _, _, err := e.gen.Leaderboard(e.ctx, trend.PeriodDaily, trend.PeriodKey{Year: 2024, Month: 1, Day: 1}); !errors.Is(err, trend.ErrNotFound) {
		t.Fatalf("missing period err = %v", err)
	}
}
