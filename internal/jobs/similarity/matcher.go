package similarity

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/strataline/graphmind/internal/domain"
	"github.com/strataline/graphmind/internal/platform/envutil"
	"github.com/strataline/graphmind/internal/platform/logger"
)

// GraphSource is the slice of the graph store the matcher needs.
type GraphSource interface {
	GetNode(ctx context.Context, projectID, nodeID string) (*domain.Node, error)
	NodesWithEmbeddings(ctx context.Context, projectID, afterID string, limit int) ([]domain.Node, error)
	TopKNeighbors(ctx context.Context, projectID, nodeID string, embedding []float32, topK int) ([]domain.SearchHit, error)
	ReplaceSimilarityEdges(ctx context.Context, projectID, nodeID string, edges []domain.SimilarityEdge) error
	SampleNeighborScores(ctx context.Context, projectID string, sampleSize, topK int) ([]float64, error)
}

type Checkpoints interface {
	Load(ctx context.Context, jobKind, projectID string) (*domain.JobCheckpoint, error)
	Save(ctx context.Context, ckpt *domain.JobCheckpoint) error
	Clear(ctx context.Context, jobKind, projectID string) error
}

type Config struct {
	// TopK nearest neighbors considered per node.
	TopK int
	// MinScore discards individually weak neighbors.
	MinScore float64
	// MeanScoreFloor gates the whole neighbor set: below it the node gets no
	// edges at all, keeping "vaguely similar to everything" nodes from
	// flooding the graph.
	MeanScoreFloor float64
	// Tiers classify surviving neighbors into relationship types.
	Tiers domain.TierThresholds
	// PageSize nodes per checkpointed batch in corpus mode.
	PageSize int
}

func ConfigFromEnv() Config {
	tiers := domain.DefaultTierThresholds()
	tiers.Loose = envutil.Float("SIMILARITY_LOOSE_THRESHOLD", 0)
	return Config{
		TopK:           envutil.Int("SIMILARITY_TOP_K", 10),
		MinScore:       envutil.Float("SIMILARITY_MIN_SCORE", 0.75),
		MeanScoreFloor: envutil.Float("SIMILARITY_MEAN_FLOOR", 0.80),
		Tiers:          tiers,
		PageSize:       envutil.Int("SIMILARITY_PAGE_SIZE", 100),
	}
}

type Matcher struct {
	source GraphSource
	ckpts  Checkpoints
	cfg    Config
	log    *logger.Logger
}

func NewMatcher(source GraphSource, ckpts Checkpoints, cfg Config, baseLog *logger.Logger) *Matcher {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = 0.75
	}
	if cfg.MeanScoreFloor <= 0 {
		cfg.MeanScoreFloor = 0.80
	}
	if cfg.Tiers == (domain.TierThresholds{}) {
		cfg.Tiers = domain.DefaultTierThresholds()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return &Matcher{
		source: source,
		ckpts:  ckpts,
		cfg:    cfg,
		log:    baseLog.With("job", "SimilarityMatcher"),
	}
}

// NodeResult reports what regeneration did for one node.
type NodeResult struct {
	NodeID      string
	Created     int
	Discarded   int
	MeanScore   float64
	QualityGate bool // true when the mean-score floor suppressed all edges
}

// RegenerateNode recomputes one node's similarity edges from scratch. The
// previous generated set is always replaced, even when the new set is empty.
func (m *Matcher) RegenerateNode(ctx context.Context, projectID string, node *domain.Node) (NodeResult, error) {
	result := NodeResult{NodeID: node.ID}
	if len(node.Embedding) == 0 {
		return result, fmt.Errorf("similarity: node %s has no embedding: %w", node.ID, domain.ErrInvalid)
	}

	hits, err := m.source.TopKNeighbors(ctx, projectID, node.ID, node.Embedding, m.cfg.TopK)
	if err != nil {
		return result, fmt.Errorf("similarity: neighbors of %s: %w", node.ID, err)
	}

	floor := m.cfg.MinScore
	if m.cfg.Tiers.Loose > 0 && m.cfg.Tiers.Loose < floor {
		floor = m.cfg.Tiers.Loose
	}

	surviving := make([]domain.SearchHit, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < floor {
			result.Discarded++
			continue
		}
		surviving = append(surviving, hit)
	}

	edges := make([]domain.SimilarityEdge, 0, len(surviving))
	if len(surviving) > 0 {
		sum := 0.0
		for _, hit := range surviving {
			sum += hit.Score
		}
		result.MeanScore = sum / float64(len(surviving))

		if result.MeanScore < m.cfg.MeanScoreFloor {
			// Individually acceptable neighbors, collectively too weak.
			result.QualityGate = true
			result.Discarded += len(surviving)
			surviving = nil
		}

		for _, hit := range surviving {
			tier := domain.TierForScore(hit.Score, m.cfg.Tiers)
			if tier == "" {
				result.Discarded++
				continue
			}
			edges = append(edges, domain.SimilarityEdge{
				FromID: node.ID,
				ToID:   hit.Node.ID,
				Type:   tier,
				Score:  hit.Score,
			})
		}
	}

	if err := m.source.ReplaceSimilarityEdges(ctx, projectID, node.ID, edges); err != nil {
		return result, fmt.Errorf("similarity: replace edges of %s: %w", node.ID, err)
	}
	result.Created = len(edges)
	return result, nil
}

// RegenerateOne recomputes edges for a single node id.
func (m *Matcher) RegenerateOne(ctx context.Context, projectID, nodeID string) (NodeResult, error) {
	node, err := m.source.GetNode(ctx, projectID, nodeID)
	if err != nil {
		return NodeResult{NodeID: nodeID}, err
	}
	if node == nil {
		return NodeResult{NodeID: nodeID}, fmt.Errorf("similarity: node %s not found: %w", nodeID, domain.ErrInvalid)
	}
	return m.RegenerateNode(ctx, projectID, node)
}

// RegenerateAll walks every embedded knowledge node in the project with the
// same checkpoint/resume discipline as the embedding pipeline.
func (m *Matcher) RegenerateAll(ctx context.Context, projectID string, resume bool) (domain.RunSummary, error) {
	summary := domain.RunSummary{
		JobKind:   domain.JobKindSimilarityRegen,
		ProjectID: projectID,
		StartedAt: time.Now().UTC(),
	}

	afterID := ""
	if resume {
		ckpt, err := m.ckpts.Load(ctx, domain.JobKindSimilarityRegen, projectID)
		if err != nil {
			return summary, fmt.Errorf("similarity: load checkpoint: %w", err)
		}
		if ckpt != nil {
			afterID = ckpt.LastProcessedID
			summary.Processed = ckpt.ProcessedCount
			summary.Skipped = ckpt.SkippedCount
			summary.Failed = ckpt.FailedCount
			summary.StartedAt = ckpt.StartedAt
		}
	} else {
		if err := m.ckpts.Clear(ctx, domain.JobKindSimilarityRegen, projectID); err != nil {
			return summary, fmt.Errorf("similarity: clear checkpoint: %w", err)
		}
	}

	for {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		page, err := m.source.NodesWithEmbeddings(ctx, projectID, afterID, m.cfg.PageSize)
		if err != nil {
			return summary, fmt.Errorf("similarity: page after %q: %w", afterID, err)
		}
		if len(page) == 0 {
			break
		}

		for i := range page {
			res, err := m.RegenerateNode(ctx, projectID, &page[i])
			if err != nil {
				summary.Failed++
				m.log.Warn("Similarity regeneration failed for node",
					"project_id", projectID,
					"node_id", page[i].ID,
					"error", err.Error(),
				)
				continue
			}
			if res.QualityGate || res.Created == 0 {
				summary.Skipped++
			} else {
				summary.Processed++
			}
		}
		afterID = page[len(page)-1].ID

		if err := m.ckpts.Save(ctx, &domain.JobCheckpoint{
			JobKind:         domain.JobKindSimilarityRegen,
			ProjectID:       projectID,
			LastProcessedID: afterID,
			ProcessedCount:  summary.Processed,
			SkippedCount:    summary.Skipped,
			FailedCount:     summary.Failed,
			StartedAt:       summary.StartedAt,
		}); err != nil {
			return summary, fmt.Errorf("similarity: save checkpoint: %w", err)
		}

		if len(page) < m.cfg.PageSize {
			break
		}
	}

	if err := m.ckpts.Clear(ctx, domain.JobKindSimilarityRegen, projectID); err != nil {
		return summary, fmt.Errorf("similarity: clear finished checkpoint: %w", err)
	}

	summary.Duration = time.Since(summary.StartedAt)
	m.log.Info("Similarity regeneration finished",
		"project_id", projectID,
		"processed", summary.Processed,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"duration", summary.Duration.String(),
	)
	return summary, nil
}

// Distribution is the percentile report used for threshold tuning. Read-only
// diagnostic; never part of the write path.
type Distribution struct {
	SampleSize int
	P50        float64
	P75        float64
	P90        float64
	P95        float64
	P99        float64
}

func (m *Matcher) AnalyzeDistribution(ctx context.Context, projectID string, sampleSize int) (Distribution, error) {
	scores, err := m.source.SampleNeighborScores(ctx, projectID, sampleSize, m.cfg.TopK)
	if err != nil {
		return Distribution{}, fmt.Errorf("similarity: sample scores: %w", err)
	}
	sort.Float64s(scores)
	return Distribution{
		SampleSize: len(scores),
		P50:        percentile(scores, 0.50),
		P75:        percentile(scores, 0.75),
		P90:        percentile(scores, 0.90),
		P95:        percentile(scores, 0.95),
		P99:        percentile(scores, 0.99),
	}, nil
}

// percentile over a sorted slice, nearest-rank method.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
