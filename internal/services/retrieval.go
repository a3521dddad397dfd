package services

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/strataline/graphmind/internal/clients/embeddings"
	"github.com/strataline/graphmind/internal/domain"
	"github.com/strataline/graphmind/internal/platform/envutil"
	"github.com/strataline/graphmind/internal/platform/logger"
)

// graphRetriever is the slice of the graph store the retrieval service uses
// beyond plain text search.
type graphRetriever interface {
	graphSearcher
	VectorSearch(ctx context.Context, projectID string, embedding []float32, topK int, minScore float64) ([]domain.SearchHit, error)
	Neighbors(ctx context.Context, projectID string, nodeIDs []string, relTypes []string) ([]domain.Node, error)
}

// RetrievalLimits bounds one composed retrieval call.
type RetrievalLimits struct {
	FullTextLimit    int
	FullTextMinScore float64
	SimilarLimit     int
	SimilarMinScore  float64
	TraversalHops    int
}

func DefaultRetrievalLimits() RetrievalLimits {
	return RetrievalLimits{
		FullTextLimit:    envutil.Int("RETRIEVAL_FULLTEXT_LIMIT", 10),
		FullTextMinScore: envutil.Float("RETRIEVAL_FULLTEXT_MIN_SCORE", 0.5),
		SimilarLimit:     envutil.Int("RETRIEVAL_SIMILAR_LIMIT", 10),
		SimilarMinScore:  envutil.Float("RETRIEVAL_SIMILAR_MIN_SCORE", 0.7),
		TraversalHops:    envutil.Int("RETRIEVAL_TRAVERSAL_HOPS", 2),
	}
}

// StrategicContext is the composed retrieval result handed to callers at
// session start. Degraded is set whenever any leg answered from a fallback
// source; it is a flag, never a silent substitution.
type StrategicContext struct {
	FullTextHits   []domain.SearchHit
	SimilarNodes   []domain.SearchHit
	TraversalHits  []domain.TraversalHit
	SelectedSprint *domain.Sprint
	NextTask       *domain.Task
	Alerts         []domain.Alert
	Degraded       bool
}

type RetrievalService struct {
	store    graphRetriever
	embed    embeddings.Client
	primary  ContextSource
	fallback ContextSource
	work     *ActiveWorkService
	log      *logger.Logger
	tracer   trace.Tracer
}

func NewRetrievalService(
	store graphRetriever,
	embed embeddings.Client,
	primary ContextSource,
	fallback ContextSource,
	work *ActiveWorkService,
	baseLog *logger.Logger,
) *RetrievalService {
	return &RetrievalService{
		store:    store,
		embed:    embed,
		primary:  primary,
		fallback: fallback,
		work:     work,
		log:      baseLog.With("service", "Retrieval"),
		tracer:   otel.Tracer("graphmind/retrieval"),
	}
}

// Search is the full-text path. When the primary source is unavailable the
// fallback answers and degraded is reported to the caller.
func (s *RetrievalService) Search(ctx context.Context, projectID, query string, limit int, minScore float64) ([]domain.SearchHit, bool, error) {
	ctx, span := s.tracer.Start(ctx, "retrieval.search",
		trace.WithAttributes(attribute.Int("limit", limit)))
	defer span.End()

	if s.primary.Available(ctx) {
		hits, err := s.primary.Search(ctx, projectID, query, limit, minScore)
		if err == nil {
			return hits, false, nil
		}
		s.log.Warn("Primary search failed; trying fallback",
			"project_id", projectID, "source", s.primary.Name(), "error", err.Error())
	}

	if s.fallback == nil || !s.fallback.Available(ctx) {
		return nil, false, fmt.Errorf("search: no data source available: %w", domain.ErrUnavailable)
	}
	hits, err := s.fallback.Search(ctx, projectID, query, limit, minScore)
	if err != nil {
		return nil, false, fmt.Errorf("search: fallback failed: %w", err)
	}
	span.SetAttributes(attribute.Bool("degraded", true))
	return hits, true, nil
}

// SemanticSearch embeds the query (query mode, always) and runs the vector
// index. There is no vector fallback; on graph unavailability the cache
// source answers by plain text, flagged degraded.
func (s *RetrievalService) SemanticSearch(ctx context.Context, projectID, query string, limit int, minScore float64) ([]domain.SearchHit, bool, error) {
	ctx, span := s.tracer.Start(ctx, "retrieval.semantic_search",
		trace.WithAttributes(attribute.Int("limit", limit)))
	defer span.End()

	vecs, err := s.embed.Embed(ctx, []string{query}, embeddings.ModeQuery)
	if err == nil {
		hits, vErr := s.store.VectorSearch(ctx, projectID, vecs[0], limit, minScore)
		if vErr == nil {
			return hits, false, nil
		}
		err = vErr
	}
	s.log.Warn("Semantic search degraded to text fallback",
		"project_id", projectID, "error", err.Error())

	if s.fallback == nil || !s.fallback.Available(ctx) {
		return nil, false, fmt.Errorf("semantic search: no data source available: %w", domain.ErrUnavailable)
	}
	hits, fErr := s.fallback.Search(ctx, projectID, query, limit, minScore)
	if fErr != nil {
		return nil, false, fmt.Errorf("semantic search: fallback failed: %w", fErr)
	}
	span.SetAttributes(attribute.Bool("degraded", true))
	return hits, true, nil
}

// TraverseFrom walks typed relationships outward from the seed nodes as an
// iterative breadth-first search: explicit frontier, explicit visited set,
// explicit depth counter. The hop bound and the visited set make termination
// on cyclic graphs an invariant rather than a stack-depth accident. Results
// come back ordered by hop distance, closest first.
func (s *RetrievalService) TraverseFrom(ctx context.Context, projectID string, seedIDs []string, maxHops int, relTypes []string) ([]domain.TraversalHit, error) {
	ctx, span := s.tracer.Start(ctx, "retrieval.traverse",
		trace.WithAttributes(attribute.Int("max_hops", maxHops), attribute.Int("seeds", len(seedIDs))))
	defer span.End()

	if maxHops <= 0 {
		maxHops = 2
	}
	if len(seedIDs) == 0 {
		return nil, nil
	}

	visited := make(map[string]bool, len(seedIDs))
	for _, id := range seedIDs {
		visited[id] = true
	}

	frontier := append([]string(nil), seedIDs...)
	var hits []domain.TraversalHit

	for depth := 1; depth <= maxHops && len(frontier) > 0; depth++ {
		neighbors, err := s.store.Neighbors(ctx, projectID, frontier, relTypes)
		if err != nil {
			return nil, fmt.Errorf("traverse: hop %d: %w", depth, err)
		}
		next := make([]string, 0, len(neighbors))
		for _, node := range neighbors {
			if visited[node.ID] {
				continue
			}
			visited[node.ID] = true
			hits = append(hits, domain.TraversalHit{Node: node, Distance: depth})
			next = append(next, node.ID)
		}
		frontier = next
	}
	return hits, nil
}

// LoadStrategicContext composes the three retrieval techniques with active
// work selection into the session-start payload. Individual legs may fail;
// only total unavailability of all sources is a hard failure.
func (s *RetrievalService) LoadStrategicContext(ctx context.Context, projectID, taskDescription string, limits RetrievalLimits) (*StrategicContext, error) {
	ctx, span := s.tracer.Start(ctx, "retrieval.load_strategic_context")
	defer span.End()

	if limits == (RetrievalLimits{}) {
		limits = DefaultRetrievalLimits()
	}

	out := &StrategicContext{}

	fullText, fellBack, err := s.Search(ctx, projectID, taskDescription, limits.FullTextLimit, limits.FullTextMinScore)
	if err != nil {
		return nil, err
	}
	out.FullTextHits = fullText
	out.Degraded = out.Degraded || fellBack

	similar, degraded, err := s.SemanticSearch(ctx, projectID, taskDescription, limits.SimilarLimit, limits.SimilarMinScore)
	if err != nil {
		s.log.Warn("Semantic leg unavailable; continuing without it",
			"project_id", projectID, "error", err.Error())
		out.Degraded = true
	} else {
		out.SimilarNodes = similar
		out.Degraded = out.Degraded || degraded
	}

	// Traversal depends only on the graph store. Skip it when the full-text
	// leg fell back to the cache, since cache seeds are not graph node ids;
	// a failed semantic leg does not disqualify it.
	if !fellBack {
		seeds := make([]string, 0, len(out.FullTextHits))
		for _, hit := range out.FullTextHits {
			seeds = append(seeds, hit.Node.ID)
		}
		traversal, err := s.TraverseFrom(ctx, projectID, seeds, limits.TraversalHops, nil)
		if err != nil {
			s.log.Warn("Traversal leg failed; continuing without it",
				"project_id", projectID, "error", err.Error())
			out.Degraded = true
		} else {
			out.TraversalHits = traversal
		}
	}

	if s.work != nil {
		work, err := s.work.SelectActiveWork(ctx, projectID, "")
		if err != nil {
			s.log.Warn("Active work selection failed; continuing without it",
				"project_id", projectID, "error", err.Error())
			out.Degraded = true
		} else if work != nil {
			out.SelectedSprint = work.Sprint
			out.NextTask = work.NextTask
			out.Alerts = work.Alerts
		}
	}

	span.SetAttributes(attribute.Bool("degraded", out.Degraded))
	return out, nil
}
