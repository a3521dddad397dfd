package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/strataline/graphmind/internal/domain"
)

// FulltextSearch runs the shared full-text index over title+content, scoped
// to one project and floored by minScore.
func (s *Store) FulltextSearch(ctx context.Context, projectID, query string, limit int, minScore float64) ([]domain.SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("fulltext search: empty query: %w", domain.ErrInvalid)
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.run.QueryRecords(ctx, `
		CALL db.index.fulltext.queryNodes('knowledge_fulltext', $query)
		YIELD node, score
		WHERE node.project_id = $project_id AND score >= $min_score
		RETURN `+nodeReturn+`, score
		ORDER BY score DESC, node.id ASC
		LIMIT $limit`,
		map[string]any{
			"query":      query,
			"project_id": projectID,
			"min_score":  minScore,
			"limit":      limit,
		})
	if err != nil {
		return nil, err
	}
	out := make([]domain.SearchHit, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.SearchHit{
			Node:  nodeFromRow(row),
			Score: asFloat(row["score"]),
		})
	}
	return out, nil
}

// vectorIndexName mirrors the naming convention of the schema manager.
func vectorIndexName(kind domain.NodeKind) string {
	return strings.ToLower(string(kind)) + "_embedding_idx"
}

// VectorSearch finds the nearest neighbors of a query vector across every
// knowledge-kind vector index, merged and re-ranked. The per-index query
// overfetches because the index cannot pre-filter by project.
func (s *Store) VectorSearch(ctx context.Context, projectID string, embedding []float32, topK int, minScore float64) ([]domain.SearchHit, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("vector search: empty embedding: %w", domain.ErrInvalid)
	}
	if topK <= 0 {
		topK = 10
	}

	merged := make([]domain.SearchHit, 0, topK*2)
	for _, kind := range domain.KnowledgeKinds {
		rows, err := s.run.QueryRecords(ctx, `
			CALL db.index.vector.queryNodes($index, $overfetch, $embedding)
			YIELD node, score
			WHERE node.project_id = $project_id AND score >= $min_score
			RETURN `+nodeReturn+`, score`,
			map[string]any{
				"index":      vectorIndexName(kind),
				"overfetch":  topK * 4,
				"embedding":  embeddingParam(embedding),
				"project_id": projectID,
				"min_score":  minScore,
			})
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			merged = append(merged, domain.SearchHit{
				Node:  nodeFromRow(row),
				Score: asFloat(row["score"]),
			})
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].Node.ID < merged[j].Node.ID
	})
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}
