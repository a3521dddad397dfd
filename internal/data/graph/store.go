package graph

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/strataline/graphmind/internal/domain"
	"github.com/strataline/graphmind/internal/platform/logger"
)

// Runner is the slice of *neo4jdb.Client this layer depends on. Components
// receive a Store by injection; tests substitute a fake Runner.
type Runner interface {
	QueryRecords(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	Write(ctx context.Context, fn func(tx neo4j.ManagedTransaction) (any, error)) (any, error)
	Exec(ctx context.Context, cypher string, params map[string]any) error
	Ping(ctx context.Context) error
}

type Store struct {
	run Runner
	log *logger.Logger
}

func NewStore(run Runner, baseLog *logger.Logger) *Store {
	return &Store{
		run: run,
		log: baseLog.With("component", "GraphStore"),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.run.Ping(ctx)
}

// nodeReturn is the projection appended to queries that return knowledge
// nodes; rows stay plain maps so fakes are trivial to build.
const nodeReturn = `node.id AS id, labels(node)[0] AS kind, node.title AS title,
	node.content AS content, node.tags AS tags, node.project_id AS project_id,
	node.created_at AS created_at, node.updated_at AS updated_at`

func nodeFromRow(row map[string]any) domain.Node {
	return domain.Node{
		ID:        asString(row["id"]),
		Kind:      domain.NodeKind(asString(row["kind"])),
		Title:     asString(row["title"]),
		Content:   asString(row["content"]),
		Tags:      asStrings(row["tags"]),
		ProjectID: asString(row["project_id"]),
		Embedding: asFloat32s(row["embedding"]),
		CreatedAt: asTime(row["created_at"]),
		UpdatedAt: asTime(row["updated_at"]),
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStrings(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func asFloat32s(v any) []float32 {
	switch t := v.(type) {
	case []float32:
		return t
	case []any:
		out := make([]float32, 0, len(t))
		for _, item := range t {
			switch f := item.(type) {
			case float64:
				out = append(out, float32(f))
			case float32:
				out = append(out, f)
			}
		}
		return out
	default:
		return nil
	}
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return 0
	}
}

func asInt(v any) int {
	switch t := v.(type) {
	case int64:
		return int(t)
	case int:
		return t
	case float64:
		return int(t)
	default:
		return 0
	}
}

func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed
		}
		return time.Time{}
	default:
		return time.Time{}
	}
}

func asTimePtr(v any) *time.Time {
	t := asTime(v)
	if t.IsZero() {
		return nil
	}
	return &t
}

func embeddingParam(vec []float32) []any {
	out := make([]any, len(vec))
	for i, f := range vec {
		out[i] = float64(f)
	}
	return out
}
