package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/strataline/graphmind/internal/clients/embeddings"
	"github.com/strataline/graphmind/internal/domain"
	"github.com/strataline/graphmind/internal/platform/envutil"
	"github.com/strataline/graphmind/internal/platform/logger"
)

// NodeSource is the slice of the graph store the pipeline reads and writes.
type NodeSource interface {
	NodesMissingEmbeddings(ctx context.Context, projectID, afterID string, limit int) ([]domain.Node, error)
	SaveEmbeddings(ctx context.Context, projectID string, vectors map[string][]float32) error
}

// Checkpoints is the durable progress store; a checkpoint is written only
// after the batch it covers has been committed by SaveEmbeddings.
type Checkpoints interface {
	Load(ctx context.Context, jobKind, projectID string) (*domain.JobCheckpoint, error)
	Save(ctx context.Context, ckpt *domain.JobCheckpoint) error
	Clear(ctx context.Context, jobKind, projectID string) error
}

type Config struct {
	// PageSize nodes are fetched per keyset page; one page is one commit and
	// one checkpoint.
	PageSize int
	// ChunkSize texts per provider call; must stay within the provider batch
	// bound.
	ChunkSize int
	// Concurrency caps in-flight provider calls.
	Concurrency int
}

func ConfigFromEnv() Config {
	return Config{
		PageSize:    envutil.Int("EMBED_PIPELINE_PAGE_SIZE", 200),
		ChunkSize:   envutil.Int("EMBED_PIPELINE_CHUNK_SIZE", 64),
		Concurrency: envutil.Int("EMBED_PIPELINE_CONCURRENCY", 4),
	}
}

type Pipeline struct {
	source NodeSource
	embed  embeddings.Client
	ckpts  Checkpoints
	cfg    Config
	log    *logger.Logger
}

func NewPipeline(source NodeSource, embed embeddings.Client, ckpts Checkpoints, cfg Config, baseLog *logger.Logger) *Pipeline {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	if cfg.ChunkSize <= 0 || cfg.ChunkSize > 128 {
		cfg.ChunkSize = 64
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Pipeline{
		source: source,
		embed:  embed,
		ckpts:  ckpts,
		cfg:    cfg,
		log:    baseLog.With("job", "EmbeddingPipeline"),
	}
}

// Run embeds every knowledge node in the project that has text but no
// vector. With resume it restarts from the last checkpoint; otherwise any
// stale checkpoint is discarded first. Per-item provider failures are counted
// and skipped; auth-class failures abort the run.
func (p *Pipeline) Run(ctx context.Context, projectID string, resume bool) (domain.RunSummary, error) {
	summary := domain.RunSummary{
		JobKind:   domain.JobKindEmbedBackfill,
		ProjectID: projectID,
		StartedAt: time.Now().UTC(),
	}

	afterID := ""
	if resume {
		ckpt, err := p.ckpts.Load(ctx, domain.JobKindEmbedBackfill, projectID)
		if err != nil {
			return summary, fmt.Errorf("embed pipeline: load checkpoint: %w", err)
		}
		if ckpt != nil {
			afterID = ckpt.LastProcessedID
			summary.Processed = ckpt.ProcessedCount
			summary.Skipped = ckpt.SkippedCount
			summary.Failed = ckpt.FailedCount
			summary.StartedAt = ckpt.StartedAt
			p.log.Info("Resuming embedding run",
				"project_id", projectID,
				"after_id", afterID,
				"processed", ckpt.ProcessedCount,
			)
		}
	} else {
		if err := p.ckpts.Clear(ctx, domain.JobKindEmbedBackfill, projectID); err != nil {
			return summary, fmt.Errorf("embed pipeline: clear checkpoint: %w", err)
		}
	}

	for {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		page, err := p.source.NodesMissingEmbeddings(ctx, projectID, afterID, p.cfg.PageSize)
		if err != nil {
			return summary, fmt.Errorf("embed pipeline: page after %q: %w", afterID, err)
		}
		if len(page) == 0 {
			break
		}

		processed, skipped, failed, err := p.embedPage(ctx, projectID, page)
		if err != nil {
			return summary, err
		}
		summary.Processed += processed
		summary.Skipped += skipped
		summary.Failed += failed
		afterID = page[len(page)-1].ID

		// Commit happened inside embedPage; only now is progress durable.
		if err := p.ckpts.Save(ctx, &domain.JobCheckpoint{
			JobKind:         domain.JobKindEmbedBackfill,
			ProjectID:       projectID,
			LastProcessedID: afterID,
			ProcessedCount:  summary.Processed,
			SkippedCount:    summary.Skipped,
			FailedCount:     summary.Failed,
			StartedAt:       summary.StartedAt,
		}); err != nil {
			return summary, fmt.Errorf("embed pipeline: save checkpoint: %w", err)
		}

		if len(page) < p.cfg.PageSize {
			break
		}
	}

	if err := p.ckpts.Clear(ctx, domain.JobKindEmbedBackfill, projectID); err != nil {
		return summary, fmt.Errorf("embed pipeline: clear finished checkpoint: %w", err)
	}

	summary.Duration = time.Since(summary.StartedAt)
	p.log.Info("Embedding run finished",
		"project_id", projectID,
		"processed", summary.Processed,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"duration", summary.Duration.String(),
	)
	return summary, nil
}

// embedPage embeds one page of nodes and commits the vectors in a single
// transaction. Returns processed/skipped/failed counts for the page.
func (p *Pipeline) embedPage(ctx context.Context, projectID string, page []domain.Node) (int, int, int, error) {
	// Quality gate: empty or whitespace-only content is skipped, not failed.
	embeddable := make([]domain.Node, 0, len(page))
	skipped := 0
	for _, node := range page {
		if strings.TrimSpace(node.EmbeddableText()) == "" {
			skipped++
			continue
		}
		embeddable = append(embeddable, node)
	}
	if len(embeddable) == 0 {
		return 0, skipped, 0, nil
	}

	type chunkResult struct {
		vectors map[string][]float32
		failed  int
	}

	chunks := chunkNodes(embeddable, p.cfg.ChunkSize)
	results := make([]chunkResult, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i := range chunks {
		i := i
		g.Go(func() error {
			chunk := chunks[i]
			texts := make([]string, len(chunk))
			for j := range chunk {
				texts[j] = chunk[j].EmbeddableText()
			}
			vecs, err := p.embed.Embed(gctx, texts, embeddings.ModeDocument)
			if err != nil {
				if isAbortClass(err) {
					return fmt.Errorf("embed pipeline: provider rejected run: %w", err)
				}
				p.log.Warn("Embedding chunk failed; continuing",
					"project_id", projectID,
					"chunk_size", len(chunk),
					"error", err.Error(),
				)
				results[i] = chunkResult{failed: len(chunk)}
				return nil
			}
			vectors := make(map[string][]float32, len(chunk))
			for j := range chunk {
				vectors[chunk[j].ID] = vecs[j]
			}
			results[i] = chunkResult{vectors: vectors}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, skipped, 0, err
	}

	vectors := make(map[string][]float32)
	failed := 0
	for _, r := range results {
		failed += r.failed
		for id, vec := range r.vectors {
			vectors[id] = vec
		}
	}

	if len(vectors) > 0 {
		if err := p.source.SaveEmbeddings(ctx, projectID, vectors); err != nil {
			return 0, skipped, failed, fmt.Errorf("embed pipeline: commit page: %w", err)
		}
	}
	return len(vectors), skipped, failed, nil
}

func chunkNodes(nodes []domain.Node, size int) [][]domain.Node {
	var out [][]domain.Node
	for start := 0; start < len(nodes); start += size {
		end := start + size
		if end > len(nodes) {
			end = len(nodes)
		}
		out = append(out, nodes[start:end])
	}
	return out
}

// isAbortClass reports errors that will not heal with more items; only
// provider auth rejections qualify.
func isAbortClass(err error) bool {
	return errors.Is(err, embeddings.ErrAuth)
}
