package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/strataline/graphmind/internal/domain"
)

// UpsertNode creates or updates a knowledge node in place. When the text
// changed, the stale embedding is cleared so the embedding pipeline picks the
// node up again. ContentChanged in the result tells callers whether to
// enqueue re-embedding.
type UpsertResult struct {
	Created        bool
	ContentChanged bool
}

func (s *Store) UpsertNode(ctx context.Context, node *domain.Node) (UpsertResult, error) {
	if node == nil || node.ID == "" || node.ProjectID == "" {
		return UpsertResult{}, fmt.Errorf("graph upsert: id and project_id required: %w", domain.ErrInvalid)
	}
	if !domain.ValidKind(node.Kind) {
		return UpsertResult{}, fmt.Errorf("graph upsert: unknown kind %q: %w", node.Kind, domain.ErrInvalid)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	// Label is validated against the closed kind set above; everything
	// caller-influenced is bound as a parameter.
	cypher := fmt.Sprintf(`
		MERGE (node:%s {id: $id, project_id: $project_id})
		ON CREATE SET node.created_at = $now, node.__created = true
		WITH node,
			(node.title IS NULL OR node.title <> $title OR node.content IS NULL OR node.content <> $content) AS changed
		SET node.title = $title,
			node.content = $content,
			node.tags = $tags,
			node.updated_at = $now
		FOREACH (_ IN CASE WHEN changed THEN [1] ELSE [] END | SET node.embedding = null)
		WITH node, changed, coalesce(node.__created, false) AS created
		REMOVE node.__created
		RETURN created, changed`, node.Kind)

	params := map[string]any{
		"id":         node.ID,
		"project_id": node.ProjectID,
		"title":      node.Title,
		"content":    node.Content,
		"tags":       node.Tags,
		"now":        now,
	}

	out, err := s.run.Write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		created, _ := rec.Get("created")
		changed, _ := rec.Get("changed")
		createdB, _ := created.(bool)
		changedB, _ := changed.(bool)
		return UpsertResult{Created: createdB, ContentChanged: changedB}, nil
	})
	if err != nil {
		return UpsertResult{}, err
	}
	result, _ := out.(UpsertResult)
	return result, nil
}

// GetNode loads a single node scoped to its project.
func (s *Store) GetNode(ctx context.Context, projectID, nodeID string) (*domain.Node, error) {
	rows, err := s.run.QueryRecords(ctx, `
		MATCH (node {id: $id, project_id: $project_id})
		RETURN `+nodeReturn+`, node.embedding AS embedding`,
		map[string]any{"id": nodeID, "project_id": projectID})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	node := nodeFromRow(rows[0])
	return &node, nil
}

// NodesMissingEmbeddings pages through knowledge nodes that have text but no
// embedding, ordered by id (keyset pagination from afterID).
func (s *Store) NodesMissingEmbeddings(ctx context.Context, projectID, afterID string, limit int) ([]domain.Node, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.run.QueryRecords(ctx, `
		MATCH (node)
		WHERE node.project_id = $project_id
		  AND any(l IN labels(node) WHERE l IN $kinds)
		  AND node.embedding IS NULL
		  AND node.id > $after_id
		RETURN `+nodeReturn+`
		ORDER BY node.id ASC
		LIMIT $limit`,
		map[string]any{
			"project_id": projectID,
			"kinds":      kindList(domain.KnowledgeKinds),
			"after_id":   afterID,
			"limit":      limit,
		})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Node, 0, len(rows))
	for _, row := range rows {
		out = append(out, nodeFromRow(row))
	}
	return out, nil
}

// NodesWithEmbeddings pages through embedded knowledge nodes for similarity
// regeneration, ordered by id (keyset pagination from afterID).
func (s *Store) NodesWithEmbeddings(ctx context.Context, projectID, afterID string, limit int) ([]domain.Node, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.run.QueryRecords(ctx, `
		MATCH (node)
		WHERE node.project_id = $project_id
		  AND any(l IN labels(node) WHERE l IN $kinds)
		  AND node.embedding IS NOT NULL
		  AND node.id > $after_id
		RETURN `+nodeReturn+`, node.embedding AS embedding
		ORDER BY node.id ASC
		LIMIT $limit`,
		map[string]any{
			"project_id": projectID,
			"kinds":      kindList(domain.KnowledgeKinds),
			"after_id":   afterID,
			"limit":      limit,
		})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Node, 0, len(rows))
	for _, row := range rows {
		out = append(out, nodeFromRow(row))
	}
	return out, nil
}

// SaveEmbeddings writes a batch of vectors in one transaction so a batch is
// either fully committed or not at all; checkpoints depend on that.
func (s *Store) SaveEmbeddings(ctx context.Context, projectID string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	items := make([]map[string]any, 0, len(vectors))
	for id, vec := range vectors {
		items = append(items, map[string]any{
			"id":        id,
			"embedding": embeddingParam(vec),
		})
	}
	_, err := s.run.Write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			UNWIND $items AS item
			MATCH (node {id: item.id, project_id: $project_id})
			SET node.embedding = item.embedding,
			    node.embedded_at = $now`,
			map[string]any{
				"items":      items,
				"project_id": projectID,
				"now":        time.Now().UTC().Format(time.RFC3339Nano),
			})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	return err
}

// RecordSessionActivity appends temporal relationships from a session to the
// knowledge nodes it touched. The trail is append-only: archived sessions are
// never mutated, only referenced.
func (s *Store) RecordSessionActivity(ctx context.Context, projectID, sessionID, relType string, nodeIDs []string) error {
	if !domain.ValidTemporalRelationship(relType) {
		return fmt.Errorf("graph session activity: unknown relationship %q: %w", relType, domain.ErrInvalid)
	}
	if len(nodeIDs) == 0 {
		return nil
	}
	// relType is validated against the closed temporal set above.
	cypher := fmt.Sprintf(`
		MATCH (session:Session {id: $session_id, project_id: $project_id})
		UNWIND $node_ids AS nodeID
		MATCH (node {id: nodeID, project_id: $project_id})
		MERGE (session)-[rel:%s]->(node)
		ON CREATE SET rel.at = $now`, relType)
	_, err := s.run.Write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, map[string]any{
			"session_id": sessionID,
			"project_id": projectID,
			"node_ids":   nodeIDs,
			"now":        time.Now().UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	return err
}

func kindList(kinds []domain.NodeKind) []string {
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, string(k))
	}
	return out
}
