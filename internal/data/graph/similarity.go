package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/strataline/graphmind/internal/domain"
)

// TopKNeighbors returns the K nearest embedded neighbors of a node within
// its project, excluding the node itself. Neighbors come back ordered by
// score descending with id as the tie-break.
func (s *Store) TopKNeighbors(ctx context.Context, projectID, nodeID string, embedding []float32, topK int) ([]domain.SearchHit, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("top-k neighbors: empty embedding: %w", domain.ErrInvalid)
	}
	hits, err := s.VectorSearch(ctx, projectID, embedding, topK+1, 0)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SearchHit, 0, topK)
	for _, hit := range hits {
		if hit.Node.ID == nodeID {
			continue
		}
		out = append(out, hit)
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

// ReplaceSimilarityEdges swaps a node's generated similarity edges for the
// newly computed set in one transaction. Derived state is replaced, never
// merged, so regeneration is idempotent.
func (s *Store) ReplaceSimilarityEdges(ctx context.Context, projectID, nodeID string, edges []domain.SimilarityEdge) error {
	items := make([]map[string]any, 0, len(edges))
	for _, e := range edges {
		if e.FromID != nodeID {
			return fmt.Errorf("replace similarity edges: edge from %q does not match node %q: %w",
				e.FromID, nodeID, domain.ErrInvalid)
		}
		items = append(items, map[string]any{
			"to_id": e.ToID,
			"type":  e.Type,
			"score": e.Score,
		})
	}

	_, err := s.run.Write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (node {id: $node_id, project_id: $project_id})-[rel]->()
			WHERE type(rel) IN $similarity_types
			DELETE rel`,
			map[string]any{
				"node_id":          nodeID,
				"project_id":       projectID,
				"similarity_types": domain.SimilarityRelationships,
			})
		if err != nil {
			return nil, err
		}
		if _, err = res.Consume(ctx); err != nil {
			return nil, err
		}

		if len(items) == 0 {
			return nil, nil
		}

		// apoc is not assumed; one pass per tier keeps the relationship type
		// static in the statement text.
		for _, relType := range domain.SimilarityRelationships {
			res, err := tx.Run(ctx, fmt.Sprintf(`
				MATCH (node {id: $node_id, project_id: $project_id})
				UNWIND [item IN $items WHERE item.type = $rel_type] AS item
				MATCH (other {id: item.to_id, project_id: $project_id})
				CREATE (node)-[:%s {score: item.score, generated: true}]->(other)`, relType),
				map[string]any{
					"node_id":    nodeID,
					"project_id": projectID,
					"items":      items,
					"rel_type":   relType,
				})
			if err != nil {
				return nil, err
			}
			if _, err = res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// SimilarityEdges lists a node's outgoing generated similarity edges.
func (s *Store) SimilarityEdges(ctx context.Context, projectID, nodeID string) ([]domain.SimilarityEdge, error) {
	rows, err := s.run.QueryRecords(ctx, `
		MATCH (node {id: $node_id, project_id: $project_id})-[rel]->(other)
		WHERE type(rel) IN $similarity_types
		RETURN node.id AS from_id, other.id AS to_id, type(rel) AS type, rel.score AS score
		ORDER BY rel.score DESC, other.id ASC`,
		map[string]any{
			"node_id":          nodeID,
			"project_id":       projectID,
			"similarity_types": domain.SimilarityRelationships,
		})
	if err != nil {
		return nil, err
	}
	out := make([]domain.SimilarityEdge, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.SimilarityEdge{
			FromID: asString(row["from_id"]),
			ToID:   asString(row["to_id"]),
			Type:   asString(row["type"]),
			Score:  asFloat(row["score"]),
		})
	}
	return out, nil
}

// SampleNeighborScores collects neighbor scores for up to sampleSize embedded
// nodes; the similarity matcher turns them into the percentile report.
func (s *Store) SampleNeighborScores(ctx context.Context, projectID string, sampleSize, topK int) ([]float64, error) {
	if sampleSize <= 0 {
		sampleSize = 100
	}
	nodes, err := s.NodesWithEmbeddings(ctx, projectID, "", sampleSize)
	if err != nil {
		return nil, err
	}
	var scores []float64
	for i := range nodes {
		hits, err := s.TopKNeighbors(ctx, projectID, nodes[i].ID, nodes[i].Embedding, topK)
		if err != nil {
			return nil, err
		}
		for _, hit := range hits {
			scores = append(scores, hit.Score)
		}
	}
	sort.Float64s(scores)
	return scores, nil
}
