package services

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/strataline/graphmind/internal/domain"
	"github.com/strataline/graphmind/internal/platform/logger"
)

// ContextSource answers text search over a project's knowledge. Two
// implementations exist: graph-backed (authoritative) and cache-backed
// (last-synced document set, best-effort). Callers depend only on this
// interface; the retrieval service picks one per call from a runtime
// availability check.
type ContextSource interface {
	Name() string
	Available(ctx context.Context) bool
	Search(ctx context.Context, projectID, query string, limit int, minScore float64) ([]domain.SearchHit, error)
}

// graphSearcher is the slice of the graph store the graph-backed source
// uses.
type graphSearcher interface {
	Ping(ctx context.Context) error
	FulltextSearch(ctx context.Context, projectID, query string, limit int, minScore float64) ([]domain.SearchHit, error)
}

type graphContextSource struct {
	store graphSearcher
}

func NewGraphContextSource(store graphSearcher) ContextSource {
	return &graphContextSource{store: store}
}

func (s *graphContextSource) Name() string { return "graph" }

func (s *graphContextSource) Available(ctx context.Context) bool {
	return s.store.Ping(ctx) == nil
}

func (s *graphContextSource) Search(ctx context.Context, projectID, query string, limit int, minScore float64) ([]domain.SearchHit, error) {
	return s.store.FulltextSearch(ctx, projectID, query, limit, minScore)
}

// docLister is the slice of the redis cache the fallback source uses.
type docLister interface {
	Ping(ctx context.Context) error
	ProjectDocs(ctx context.Context, projectID string) ([]domain.Node, error)
}

// cacheContextSource scores the last-synced document set by term overlap.
// Coarser than the full-text index, but it keeps retrieval answering while
// the graph store is down. A small in-process snapshot covers the case where
// redis is down too.
type cacheContextSource struct {
	cache docLister
	log   *logger.Logger

	mu       sync.RWMutex
	snapshot map[string][]domain.Node // project id → last docs seen
}

func NewCacheContextSource(cache docLister, baseLog *logger.Logger) ContextSource {
	return &cacheContextSource{
		cache:    cache,
		log:      baseLog.With("component", "CacheContextSource"),
		snapshot: make(map[string][]domain.Node),
	}
}

func (s *cacheContextSource) Name() string { return "cache" }

func (s *cacheContextSource) Available(ctx context.Context) bool {
	if s.cache != nil && s.cache.Ping(ctx) == nil {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshot) > 0
}

func (s *cacheContextSource) Search(ctx context.Context, projectID, query string, limit int, minScore float64) ([]domain.SearchHit, error) {
	docs, err := s.projectDocs(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	terms := queryTerms(query)
	hits := make([]domain.SearchHit, 0, len(docs))
	for _, doc := range docs {
		score := overlapScore(terms, doc.Title+" "+doc.Content)
		if score < minScore {
			continue
		}
		hits = append(hits, domain.SearchHit{Node: doc, Score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Node.ID < hits[j].Node.ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *cacheContextSource) projectDocs(ctx context.Context, projectID string) ([]domain.Node, error) {
	if s.cache != nil {
		docs, err := s.cache.ProjectDocs(ctx, projectID)
		if err == nil {
			s.mu.Lock()
			s.snapshot[projectID] = docs
			s.mu.Unlock()
			return docs, nil
		}
		s.log.Warn("Doc cache read failed; serving snapshot", "project_id", projectID, "error", err.Error())
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot[projectID], nil
}

func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `.,;:!?"'()[]{}`)
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}

// overlapScore is the fraction of query terms present in the text.
func overlapScore(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	matched := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}
