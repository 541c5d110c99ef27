package graph

import (
	"context"
	"fmt"

	"github.com/leesh5000/picktrend/internal/trend"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Source is the cluster state being mirrored.
type Source interface {
	ActiveClusters(ctx context.Context) ([]trend.Cluster, error)
	TopMembers(ctx context.Context, clusterID int64, limit int) ([]trend.Member, error)
}

// Projector mirrors cluster membership into Neo4j as
// (:Keyword)-[:MEMBER_OF {similarity}]->(:Cluster).
type Projector struct {
	driver neo4j.DriverWithContext
	source Source
	logger *zap.Logger
}

// Related is a keyword sharing a cluster with the queried one.
type Related struct {
	KeywordID  int64   `json:"keyword_id"`
	Text       string  `json:"text"`
	ClusterID  int64   `json:"cluster_id"`
	Similarity float64 `json:"similarity"`
}

// New connects to Neo4j. An empty user means no authentication.
func New(uri, user, password string, source Source, logger *zap.Logger) (*Projector, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, password, "")
	}
	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Projector{
		driver: driver,
		source: source,
		logger: logger.With(zap.String("component", "graph")),
	}, nil
}

func (p *Projector) Ping(ctx context.Context) error {
	return p.driver.VerifyConnectivity(ctx)
}

func (p *Projector) Close(ctx context.Context) error {
	return p.driver.Close(ctx)
}

// EnsureSchema creates the uniqueness constraints the projection relies on.
func (p *Projector) EnsureSchema(ctx context.Context) error {
	session := p.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	for _, q := range []string{
		`CREATE CONSTRAINT keyword_id IF NOT EXISTS FOR (k:Keyword) REQUIRE k.id IS UNIQUE`,
		`CREATE CONSTRAINT cluster_id IF NOT EXISTS FOR (c:Cluster) REQUIRE c.id IS UNIQUE`,
	} {
		if _, err := session.Run(ctx, q, nil); err != nil {
			return fmt.Errorf("create constraint: %w", err)
		}
	}
	return nil
}

// Project replaces the graph's membership edges with the current state in
// one write transaction.
func (p *Projector) Project(ctx context.Context) error {
	clusters, err := p.source.ActiveClusters(ctx)
	if err != nil {
		return fmt.Errorf("list clusters: %w", err)
	}
	type batch struct {
		cluster trend.Cluster
		members []map[string]interface{}
	}
	batches := make([]batch, 0, len(clusters))
	edges := 0
	for _, c := range clusters {
		members, err := p.source.TopMembers(ctx, c.ID, 0)
		if err != nil {
			return fmt.Errorf("members of cluster %d: %w", c.ID, err)
		}
		rows := make([]map[string]interface{}, len(members))
		for i, m := range members {
			rows[i] = map[string]interface{}{
				"id":         m.KeywordID,
				"text":       m.Keyword.Text,
				"source":     string(m.Keyword.Source),
				"similarity": m.Similarity,
			}
		}
		edges += len(rows)
		batches = append(batches, batch{cluster: c, members: rows})
	}

	session := p.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `MATCH (:Keyword)-[r:MEMBER_OF]->(:Cluster) DELETE r`, nil); err != nil {
			return nil, err
		}
		if _, err := tx.Run(ctx, `MATCH (c:Cluster) SET c.active = false`, nil); err != nil {
			return nil, err
		}
		for _, b := range batches {
			_, err := tx.Run(ctx,
				`MERGE (c:Cluster {id: $id})
				 SET c.name = $name, c.active = true
				 WITH c
				 UNWIND $members AS m
				 MERGE (k:Keyword {id: m.id})
				 SET k.text = m.text, k.source = m.source
				 MERGE (k)-[r:MEMBER_OF]->(c)
				 SET r.similarity = m.similarity`,
				map[string]interface{}{
					"id":      b.cluster.ID,
					"name":    b.cluster.Name,
					"members": b.members,
				})
			if err != nil {
				return nil, fmt.Errorf("project cluster %d: %w", b.cluster.ID, err)
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("project clusters: %w", err)
	}

	p.logger.Info("cluster graph projected",
		zap.Int("clusters", len(batches)),
		zap.Int("members", edges))
	return nil
}

// Related returns the keywords sharing an active cluster with keywordID,
// most similar first.
func (p *Projector) Related(ctx context.Context, keywordID int64, limit int) ([]Related, error) {
	session := p.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (:Keyword {id: $id})-[:MEMBER_OF]->(c:Cluster {active: true})<-[r:MEMBER_OF]-(k:Keyword)
		 WHERE k.id <> $id
		 RETURN k.id, k.text, c.id, r.similarity
		 ORDER BY r.similarity DESC, k.id LIMIT $limit`,
		map[string]interface{}{"id": keywordID, "limit": limit})
	if err != nil {
		return nil, err
	}

	var out []Related
	for result.Next(ctx) {
		rec := result.Record()
		id, _ := rec.Get("k.id")
		text, _ := rec.Get("k.text")
		cid, _ := rec.Get("c.id")
		sim, _ := rec.Get("r.similarity")
		out = append(out, Related{
			KeywordID:  id.(int64),
			Text:       text.(string),
			ClusterID:  cid.(int64),
			Similarity: sim.(float64),
		})
	}
	return out, result.Err()
}
