//go:build integration

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"github.com/leesh5000/picktrend/internal/cluster"
	"github.com/leesh5000/picktrend/internal/matcher"
	"github.com/leesh5000/picktrend/internal/ranking"
	"github.com/leesh5000/picktrend/internal/trend"
)

var testStore *Store

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("picktrend_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

func TestMain(m *testing.M) {
	ctx := context.Background()
	dsn, cleanup, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	st, err := New(ctx, dsn, zap.NewNop())
	if err != nil {
		cleanup()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := st.Migrate(ctx, "../../migrations"); err != nil {
		cleanup()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	// applying twice must be harmless
	if err := st.Migrate(ctx, "../../migrations"); err != nil {
		cleanup()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	testStore = st

	code := m.Run()
	st.Close()
	cleanup()
	os.Exit(code)
}

func truncate(t *testing.T) {
	t.Helper()
	_, err := testStore.db.Exec(context.Background(), `
		TRUNCATE ranking_entries, ranking_periods, keyword_product_matches, products,
		         cluster_memberships, keyword_clusters, keyword_metrics, keywords RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

func TestUpsertKeywordDeduplicates(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	a, err := testStore.UpsertKeyword(ctx, trend.Keyword{Text: "아이폰 16", Source: trend.SourceGoogleTrends})
	if err != nil {
		t.Fatalf("UpsertKeyword: %v", err)
	}
	b, err := testStore.UpsertKeyword(ctx, trend.Keyword{Text: "아이폰16", Source: trend.SourceDCInside})
	if err != nil {
		t.Fatalf("UpsertKeyword again: %v", err)
	}
	if a.ID != b.ID || b.Text != "아이폰 16" || b.Source != trend.SourceGoogleTrends {
		t.Fatalf("duplicate keyword created: %+v vs %+v", a, b)
	}

	if err := testStore.DeactivateKeyword(ctx, a.ID); err != nil {
		t.Fatalf("DeactivateKeyword: %v", err)
	}
	active, _ := testStore.ActiveKeywords(ctx)
	if len(active) != 0 {
		t.Fatalf("deactivated keyword still listed")
	}
	if _, err := testStore.GetKeyword(ctx, 9999); !errors.Is(err, trend.ErrNotFound) {
		t.Fatalf("GetKeyword missing = %v", err)
	}
}

func TestRecordMetricOverwrites(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	k, _ := testStore.UpsertKeyword(ctx, trend.Keyword{Text: "갤럭시", Source: trend.SourceNaverDataLab})
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	first, err := testStore.RecordMetric(ctx, trend.Metric{KeywordID: k.ID, Source: trend.SourceNaverDataLab, CollectedAt: at, Value: 10})
	if err != nil {
		t.Fatalf("RecordMetric: %v", err)
	}
	rank := 3
	second, err := testStore.RecordMetric(ctx, trend.Metric{KeywordID: k.ID, Source: trend.SourceNaverDataLab, CollectedAt: at, Value: 55, SourceRank: &rank})
	if err != nil {
		t.Fatalf("RecordMetric overwrite: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("conflicting metric duplicated: %d vs %d", first.ID, second.ID)
	}
	ms, _ := testStore.RecentMetrics(ctx, k.ID, at.Add(time.Hour), 0)
	if len(ms) != 1 || ms[0].Value != 55 || ms[0].SourceRank == nil || *ms[0].SourceRank != 3 {
		t.Fatalf("metrics = %+v", ms)
	}
}

func TestCreateClusterRejectsDuplicateName(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	k, _ := testStore.UpsertKeyword(ctx, trend.Keyword{Text: "버즈", Source: trend.SourceManual})
	if _, err := testStore.CreateCluster(ctx, trend.Cluster{Name: "버즈", Normalized: "버즈", Active: true},
		[]trend.Membership{{KeywordID: k.ID, Similarity: 1}}); err != nil {
		t.Fatalf("CreateCluster: %v", err)
	}
	k2, _ := testStore.UpsertKeyword(ctx, trend.Keyword{Text: "버즈 프로", Source: trend.SourceManual})
	if _, err := testStore.CreateCluster(ctx, trend.Cluster{Name: "버즈", Normalized: "버즈", Active: true},
		[]trend.Membership{{KeywordID: k2.ID, Similarity: 1}}); err == nil {
		t.Fatal("duplicate normalized cluster accepted")
	}
	// the failed transaction left no membership behind
	if _, err := testStore.MembershipOf(ctx, k2.ID); !errors.Is(err, trend.ErrNotFound) {
		t.Fatalf("MembershipOf = %v", err)
	}
}

func TestPipelineAgainstPostgres(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	logger := zap.NewNop()

	var ids []int64
	for i, text := range []string{"에어팟", "아이폰16", "아이폰16 프로"} {
		k, err := testStore.UpsertKeyword(ctx, trend.Keyword{
			Text: text, Category: "digital", Source: trend.SourceGoogleTrends,
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("UpsertKeyword: %v", err)
		}
		ids = append(ids, k.ID)
		testStore.RecordMetric(ctx, trend.Metric{KeywordID: k.ID, Source: trend.SourceGoogleTrends, CollectedAt: now.Add(-time.Hour), Value: float64(50 + i*10)})
	}
	testStore.SaveProduct(ctx, trend.Product{Name: "아이폰16 프로", Category: "digital", Active: true})

	cm := cluster.New(testStore, nil, nil, logger)
	cres, err := cm.ClusterUnassigned(ctx, cluster.DefaultConfig())
	if err != nil {
		t.Fatalf("ClusterUnassigned: %v", err)
	}
	if cres.ClustersCreated != 1 || cres.KeywordsAssigned != 2 {
		t.Fatalf("cluster result = %+v", cres)
	}
	again, _ := cm.ClusterUnassigned(ctx, cluster.DefaultConfig())
	if again.ClustersCreated != 0 || again.KeywordsAssigned != 0 {
		t.Fatalf("second cluster run = %+v", again)
	}

	mm := matcher.New(testStore, nil, matcher.Config{}, logger)
	mres, err := mm.MatchAll(ctx, matcher.MatchOptions{ClearExisting: true, PreserveManual: true})
	if err != nil {
		t.Fatalf("MatchAll: %v", err)
	}
	if mres.Processed != 3 || mres.Matched < 1 || len(mres.Errors) != 0 {
		t.Fatalf("match result = %+v", mres)
	}

	gen := ranking.New(testStore, ranking.Config{Location: time.UTC}, logger)
	gen.SetClock(func() time.Time { return now })
	key := trend.PeriodKey{Year: 2025, Month: 3, Day: 10}
	r1, err := gen.Generate(ctx, trend.PeriodDaily, key)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	r2, err := gen.Generate(ctx, trend.PeriodDaily, key)
	if err != nil {
		t.Fatalf("Generate again: %v", err)
	}
	if r1.PeriodID != r2.PeriodID || r2.RankingsCreated != 3 {
		t.Fatalf("rankings = %+v / %+v", r1, r2)
	}
	entries, err := testStore.RankingEntries(ctx, r2.PeriodID)
	if err != nil {
		t.Fatalf("RankingEntries: %v", err)
	}
	if entries[0].KeywordID != ids[2] || entries[0].ProductCount != 1 || entries[0].Keyword != "아이폰16 프로" {
		t.Fatalf("top entry = %+v", entries[0])
	}
}
