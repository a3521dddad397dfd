package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/strataline/graphmind/internal/domain"
	"github.com/strataline/graphmind/internal/platform/logger"
)

// DocCache holds the last-synced document set per project. It backs the
// retrieval fallback when the graph store is unreachable, so it is written on
// every document sync and read only on degraded paths.
type DocCache interface {
	Put(ctx context.Context, node *domain.Node) error
	Delete(ctx context.Context, projectID, nodeID string) error
	ProjectDocs(ctx context.Context, projectID string) ([]domain.Node, error)
	Ping(ctx context.Context) error
	Close() error
}

type docCache struct {
	log *logger.Logger
	rdb *goredis.Client
}

// cachedNode is the wire form; embeddings are deliberately not mirrored (the
// fallback path has no vector index to use them with).
type cachedNode struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	ProjectID string    `json:"project_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewDocCache(log *logger.Logger) (DocCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w: %w", err, domain.ErrUnavailable)
	}

	return &docCache{
		log: log.With("client", "RedisDocCache"),
		rdb: rdb,
	}, nil
}

func projectKey(projectID string) string {
	return "graphmind:docs:" + projectID
}

func (c *docCache) Put(ctx context.Context, node *domain.Node) error {
	if c == nil || c.rdb == nil {
		return fmt.Errorf("doc cache not initialized: %w", domain.ErrUnavailable)
	}
	if node == nil || node.ID == "" || node.ProjectID == "" {
		return fmt.Errorf("doc cache put: id and project_id required: %w", domain.ErrInvalid)
	}
	raw, err := json.Marshal(cachedNode{
		ID:        node.ID,
		Kind:      string(node.Kind),
		Title:     node.Title,
		Content:   node.Content,
		Tags:      node.Tags,
		ProjectID: node.ProjectID,
		UpdatedAt: node.UpdatedAt,
	})
	if err != nil {
		return err
	}
	return c.rdb.HSet(ctx, projectKey(node.ProjectID), node.ID, raw).Err()
}

func (c *docCache) Delete(ctx context.Context, projectID, nodeID string) error {
	if c == nil || c.rdb == nil {
		return fmt.Errorf("doc cache not initialized: %w", domain.ErrUnavailable)
	}
	return c.rdb.HDel(ctx, projectKey(projectID), nodeID).Err()
}

func (c *docCache) ProjectDocs(ctx context.Context, projectID string) ([]domain.Node, error) {
	if c == nil || c.rdb == nil {
		return nil, fmt.Errorf("doc cache not initialized: %w", domain.ErrUnavailable)
	}
	vals, err := c.rdb.HGetAll(ctx, projectKey(projectID)).Result()
	if err != nil {
		return nil, fmt.Errorf("doc cache read: %w: %w", err, domain.ErrUnavailable)
	}
	out := make([]domain.Node, 0, len(vals))
	for id, raw := range vals {
		var cn cachedNode
		if err := json.Unmarshal([]byte(raw), &cn); err != nil {
			c.log.Warn("Dropping undecodable cached doc", "project_id", projectID, "node_id", id)
			continue
		}
		out = append(out, domain.Node{
			ID:        cn.ID,
			Kind:      domain.NodeKind(cn.Kind),
			Title:     cn.Title,
			Content:   cn.Content,
			Tags:      cn.Tags,
			ProjectID: cn.ProjectID,
			UpdatedAt: cn.UpdatedAt,
		})
	}
	return out, nil
}

func (c *docCache) Ping(ctx context.Context) error {
	if c == nil || c.rdb == nil {
		return fmt.Errorf("doc cache not initialized: %w", domain.ErrUnavailable)
	}
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w: %w", err, domain.ErrUnavailable)
	}
	return nil
}

func (c *docCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
