package graph

import (
	"context"

	"github.com/strataline/graphmind/internal/domain"
)

// Neighbors returns the distinct nodes one typed hop away from any of the
// given ids, in either direction, within the project. One call per BFS
// frontier keeps the depth bound explicit in the caller.
func (s *Store) Neighbors(ctx context.Context, projectID string, nodeIDs []string, relTypes []string) ([]domain.Node, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	if len(relTypes) == 0 {
		relTypes = domain.TraversalRelationships
	}
	rows, err := s.run.QueryRecords(ctx, `
		UNWIND $node_ids AS nodeID
		MATCH (seed {id: nodeID, project_id: $project_id})-[rel]-(node)
		WHERE type(rel) IN $rel_types AND node.project_id = $project_id
		RETURN DISTINCT `+nodeReturn+`
		ORDER BY node.id ASC`,
		map[string]any{
			"node_ids":   nodeIDs,
			"project_id": projectID,
			"rel_types":  relTypes,
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
