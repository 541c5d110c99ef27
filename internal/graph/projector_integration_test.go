//go:build integration

package graph

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	"go.uber.org/zap"

	"github.com/leesh5000/picktrend/internal/cluster"
	"github.com/leesh5000/picktrend/internal/store/memstore"
	"github.com/leesh5000/picktrend/internal/trend"
)

var testNeo4jURI string

// startNeo4j starts a Neo4j testcontainer, returns URI + cleanup func.
func startNeo4j(ctx context.Context) (string, func(), error) {
	container, err := tcneo4j.Run(ctx, "neo4j:5-community",
		tcneo4j.WithoutAuthentication(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start neo4j: %w", err)
	}
	uri, err := container.BoltUrl(ctx)
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("neo4j bolt url: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return uri, cleanup, nil
}

func TestMain(m *testing.M) {
	ctx := context.Background()
	uri, cleanup, err := startNeo4j(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	testNeo4jURI = uri
	code := m.Run()
	cleanup()
	os.Exit(code)
}

func TestProjectMirrorsMembership(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	ids := map[string]int64{}
	for i, text := range []string{"에어팟", "아이폰16", "아이폰16 프로"} {
		k, err := st.UpsertKeyword(ctx, trend.Keyword{Text: text, Source: trend.SourceGoogleTrends, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
		if err != nil {
			t.Fatalf("UpsertKeyword: %v", err)
		}
		ids[text] = k.ID
	}
	cm := cluster.New(st, nil, nil, zap.NewNop())
	if _, err := cm.ClusterUnassigned(ctx, cluster.DefaultConfig()); err != nil {
		t.Fatalf("ClusterUnassigned: %v", err)
	}

	p, err := New(testNeo4jURI, "", "", st, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close(ctx)
	if err := p.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	if err := p.Project(ctx); err != nil {
		t.Fatalf("Project: %v", err)
	}
	// projecting twice must not duplicate edges
	if err := p.Project(ctx); err != nil {
		t.Fatalf("Project again: %v", err)
	}

	rel, err := p.Related(ctx, ids["아이폰16"], 10)
	if err != nil {
		t.Fatalf("Related: %v", err)
	}
	if len(rel) != 1 || rel[0].KeywordID != ids["아이폰16 프로"] {
		t.Fatalf("related = %+v", rel)
	}

	if _, err := cm.RemoveKeyword(ctx, ids["아이폰16 프로"]); err != nil {
		t.Fatalf("RemoveKeyword: %v", err)
	}
	if err := p.Project(ctx); err != nil {
		t.Fatalf("Project after removal: %v", err)
	}
	rel, _ = p.Related(ctx, ids["아이폰16"], 10)
	if len(rel) != 0 {
		t.Fatalf("stale membership projected: %+v", rel)
	}
}
