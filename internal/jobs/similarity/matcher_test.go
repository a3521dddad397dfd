package similarity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/strataline/graphmind/internal/domain"
	"github.com/strataline/graphmind/internal/platform/logger"
)

type fakeGraph struct {
	mu        sync.Mutex
	nodes     []domain.Node
	neighbors map[string][]domain.SearchHit
	edges     map[string][]domain.SimilarityEdge
	scores    []float64

	replaceCalls int
	neighborsErr error
}

func (f *fakeGraph) GetNode(ctx context.Context, projectID, nodeID string) (*domain.Node, error) {
	for i := range f.nodes {
		if f.nodes[i].ID == nodeID {
			return &f.nodes[i], nil
		}
	}
	return nil, nil
}

func (f *fakeGraph) NodesWithEmbeddings(ctx context.Context, projectID, afterID string, limit int) ([]domain.Node, error) {
	var out []domain.Node
	for _, n := range f.nodes {
		if n.ID <= afterID || len(n.Embedding) == 0 {
			continue
		}
		out = append(out, n)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeGraph) TopKNeighbors(ctx context.Context, projectID, nodeID string, embedding []float32, topK int) ([]domain.SearchHit, error) {
	if f.neighborsErr != nil {
		return nil, f.neighborsErr
	}
	hits := f.neighbors[nodeID]
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (f *fakeGraph) ReplaceSimilarityEdges(ctx context.Context, projectID, nodeID string, edges []domain.SimilarityEdge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.edges == nil {
		f.edges = make(map[string][]domain.SimilarityEdge)
	}
	f.edges[nodeID] = edges
	f.replaceCalls++
	return nil
}

func (f *fakeGraph) SampleNeighborScores(ctx context.Context, projectID string, sampleSize, topK int) ([]float64, error) {
	return f.scores, nil
}

func hit(id string, score float64) domain.SearchHit {
	return domain.SearchHit{Node: domain.Node{ID: id, Kind: domain.KindDecision, ProjectID: "p1"}, Score: score}
}

func embedded(id string) domain.Node {
	return domain.Node{ID: id, Kind: domain.KindDecision, ProjectID: "p1", Embedding: []float32{0.1, 0.2}}
}

func testMatcher(source GraphSource, ckpts Checkpoints) *Matcher {
	return NewMatcher(source, ckpts, Config{}, logger.NewNop())
}

func TestRegenerateNode_TiersByScore(t *testing.T) {
	node := embedded("n1")
	source := &fakeGraph{
		nodes: []domain.Node{node},
		neighbors: map[string][]domain.SearchHit{
			"n1": {hit("dup", 0.97), hit("high", 0.88), hit("rel", 0.78), hit("weak", 0.60)},
		},
	}
	m := testMatcher(source, &memCheckpoints{})

	res, err := m.RegenerateNode(context.Background(), "p1", &node)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if res.Created != 3 || res.Discarded != 1 {
		t.Fatalf("result = %+v", res)
	}

	want := map[string]string{
		"dup":  domain.RelDuplicateOf,
		"high": domain.RelHighlyRelatedTo,
		"rel":  domain.RelRelatedTo,
	}
	for _, edge := range source.edges["n1"] {
		if edge.FromID != "n1" {
			t.Fatalf("edge from wrong node: %+v", edge)
		}
		if want[edge.ToID] != edge.Type {
			t.Fatalf("edge %s got tier %s, want %s", edge.ToID, edge.Type, want[edge.ToID])
		}
		delete(want, edge.ToID)
	}
	if len(want) != 0 {
		t.Fatalf("missing edges for %v", want)
	}
}

func TestRegenerateNode_QualityGateSuppressesWeakSets(t *testing.T) {
	// Each neighbor clears the per-edge floor, but the mean (0.767) is under
	// the 0.80 set floor.
	node := embedded("n1")
	source := &fakeGraph{
		nodes: []domain.Node{node},
		neighbors: map[string][]domain.SearchHit{
			"n1": {hit("a", 0.78), hit("b", 0.77), hit("c", 0.75)},
		},
	}
	m := testMatcher(source, &memCheckpoints{})

	res, err := m.RegenerateNode(context.Background(), "p1", &node)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if !res.QualityGate {
		t.Fatal("quality gate did not trip")
	}
	if res.Created != 0 || res.Discarded != 3 {
		t.Fatalf("result = %+v", res)
	}
	if got := source.edges["n1"]; len(got) != 0 {
		t.Fatalf("gated node still wrote edges: %+v", got)
	}
	if source.replaceCalls != 1 {
		t.Fatal("gated node must still replace (clear) its old edges")
	}
}

func TestRegenerateNode_ReplacesEvenWhenEmpty(t *testing.T) {
	node := embedded("n1")
	source := &fakeGraph{nodes: []domain.Node{node}}
	m := testMatcher(source, &memCheckpoints{})

	res, err := m.RegenerateNode(context.Background(), "p1", &node)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if res.Created != 0 {
		t.Fatalf("result = %+v", res)
	}
	if source.replaceCalls != 1 {
		t.Fatal("no-neighbor node must still replace its old edges")
	}
}

func TestRegenerateNode_Idempotent(t *testing.T) {
	node := embedded("n1")
	source := &fakeGraph{
		nodes: []domain.Node{node},
		neighbors: map[string][]domain.SearchHit{
			"n1": {hit("dup", 0.97), hit("high", 0.88)},
		},
	}
	m := testMatcher(source, &memCheckpoints{})

	first, err := m.RegenerateNode(context.Background(), "p1", &node)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := m.RegenerateNode(context.Background(), "p1", &node)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.Created != second.Created || len(source.edges["n1"]) != first.Created {
		t.Fatalf("regeneration not idempotent: first=%+v second=%+v", first, second)
	}
}

func TestRegenerateNode_NoEmbeddingIsInvalid(t *testing.T) {
	node := domain.Node{ID: "n1", Kind: domain.KindDecision, ProjectID: "p1"}
	m := testMatcher(&fakeGraph{}, &memCheckpoints{})
	_, err := m.RegenerateNode(context.Background(), "p1", &node)
	if !errors.Is(err, domain.ErrInvalid) {
		t.Fatalf("want ErrInvalid, got %v", err)
	}
}

func TestRegenerateNode_LooseTierWhenConfigured(t *testing.T) {
	node := embedded("n1")
	source := &fakeGraph{
		nodes: []domain.Node{node},
		neighbors: map[string][]domain.SearchHit{
			// High scores keep the mean above the set floor so the loose
			// neighbor survives on its own merits.
			"n1": {hit("a", 0.97), hit("b", 0.96), hit("loose", 0.70)},
		},
	}
	cfg := Config{}
	cfg.Tiers = domain.DefaultTierThresholds()
	cfg.Tiers.Loose = 0.65
	m := NewMatcher(source, &memCheckpoints{}, cfg, logger.NewNop())

	res, err := m.RegenerateNode(context.Background(), "p1", &node)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if res.Created != 3 {
		t.Fatalf("result = %+v", res)
	}
	found := false
	for _, edge := range source.edges["n1"] {
		if edge.ToID == "loose" && edge.Type == domain.RelLooselyRelatedTo {
			found = true
		}
	}
	if !found {
		t.Fatal("loose neighbor did not get a LOOSELY_RELATED_TO edge")
	}
}

func TestRegenerateOne_MissingNode(t *testing.T) {
	m := testMatcher(&fakeGraph{}, &memCheckpoints{})
	_, err := m.RegenerateOne(context.Background(), "p1", "ghost")
	if !errors.Is(err, domain.ErrInvalid) {
		t.Fatalf("want ErrInvalid, got %v", err)
	}
}

func TestRegenerateAll_WalksCorpusWithCheckpoints(t *testing.T) {
	var nodes []domain.Node
	neighbors := make(map[string][]domain.SearchHit)
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("node-%03d", i)
		nodes = append(nodes, embedded(id))
		neighbors[id] = []domain.SearchHit{hit("peer", 0.9)}
	}
	source := &fakeGraph{nodes: nodes, neighbors: neighbors}
	ckpts := &memCheckpoints{}
	m := NewMatcher(source, ckpts, Config{PageSize: 5}, logger.NewNop())

	summary, err := m.RegenerateAll(context.Background(), "p1", false)
	if err != nil {
		t.Fatalf("regenerate all: %v", err)
	}
	if summary.Processed != 12 {
		t.Fatalf("summary = %+v", summary)
	}
	if source.replaceCalls != 12 {
		t.Fatalf("replaced %d nodes, want 12", source.replaceCalls)
	}
	if ckpt, _ := ckpts.Load(context.Background(), domain.JobKindSimilarityRegen, "p1"); ckpt != nil {
		t.Fatalf("finished run left a checkpoint: %+v", ckpt)
	}
}

func TestRegenerateAll_ResumeSkipsProcessedNodes(t *testing.T) {
	var nodes []domain.Node
	neighbors := make(map[string][]domain.SearchHit)
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("node-%03d", i)
		nodes = append(nodes, embedded(id))
		neighbors[id] = []domain.SearchHit{hit("peer", 0.9)}
	}
	source := &fakeGraph{nodes: nodes, neighbors: neighbors}
	ckpts := &memCheckpoints{}
	_ = ckpts.Save(context.Background(), &domain.JobCheckpoint{
		JobKind:         domain.JobKindSimilarityRegen,
		ProjectID:       "p1",
		LastProcessedID: "node-004",
		ProcessedCount:  5,
	})
	m := NewMatcher(source, ckpts, Config{PageSize: 5}, logger.NewNop())

	summary, err := m.RegenerateAll(context.Background(), "p1", true)
	if err != nil {
		t.Fatalf("regenerate all: %v", err)
	}
	if summary.Processed != 10 {
		t.Fatalf("summary should carry prior counts: %+v", summary)
	}
	if source.replaceCalls != 5 {
		t.Fatalf("replaced %d nodes after resume, want 5", source.replaceCalls)
	}
}

// Two near-duplicate documents and one unrelated one: the duplicates end up
// linked by reciprocal DUPLICATE_OF edges (one per node, since each node owns
// its outgoing generated set), and the unrelated document gets no edges in
// either direction.
func TestRegenerateAll_DuplicatePairLeavesUnrelatedNodeUnlinked(t *testing.T) {
	source := &fakeGraph{
		nodes: []domain.Node{embedded("doc-a"), embedded("doc-b"), embedded("doc-c")},
		neighbors: map[string][]domain.SearchHit{
			"doc-a": {hit("doc-b", 0.96), hit("doc-c", 0.31)},
			"doc-b": {hit("doc-a", 0.96), hit("doc-c", 0.29)},
			"doc-c": {hit("doc-a", 0.31), hit("doc-b", 0.29)},
		},
	}
	m := testMatcher(source, &memCheckpoints{})

	summary, err := m.RegenerateAll(context.Background(), "p1", false)
	if err != nil {
		t.Fatalf("regenerate all: %v", err)
	}
	if summary.Processed != 2 || summary.Skipped != 1 {
		t.Fatalf("summary = %+v, want 2 processed and the unrelated node skipped", summary)
	}
	if source.replaceCalls != 3 {
		t.Fatalf("replaced %d nodes, want all 3 (empty sets still replace)", source.replaceCalls)
	}

	for from, to := range map[string]string{"doc-a": "doc-b", "doc-b": "doc-a"} {
		edges := source.edges[from]
		if len(edges) != 1 {
			t.Fatalf("edges[%s] = %+v, want exactly one", from, edges)
		}
		if edges[0].Type != domain.RelDuplicateOf || edges[0].ToID != to {
			t.Fatalf("edges[%s] = %+v, want DUPLICATE_OF to %s", from, edges[0], to)
		}
	}
	if len(source.edges["doc-c"]) != 0 {
		t.Fatalf("unrelated node got edges: %+v", source.edges["doc-c"])
	}
}

func TestRegenerateAll_PerNodeFailureIsCounted(t *testing.T) {
	source := &fakeGraph{
		nodes:        []domain.Node{embedded("n1"), embedded("n2")},
		neighborsErr: errors.New("index offline"),
	}
	m := testMatcher(source, &memCheckpoints{})

	summary, err := m.RegenerateAll(context.Background(), "p1", false)
	if err != nil {
		t.Fatalf("regenerate all: %v", err)
	}
	if summary.Failed != 2 || summary.Processed != 0 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestAnalyzeDistribution(t *testing.T) {
	source := &fakeGraph{scores: []float64{0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 0.97, 0.99, 0.6, 0.7}}
	m := testMatcher(source, &memCheckpoints{})

	dist, err := m.AnalyzeDistribution(context.Background(), "p1", 10)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if dist.SampleSize != 10 {
		t.Fatalf("sample size = %d", dist.SampleSize)
	}
	if dist.P50 > dist.P90 || dist.P90 > dist.P99 {
		t.Fatalf("percentiles not monotone: %+v", dist)
	}
	if dist.P99 != 0.99 {
		t.Fatalf("p99 = %v, want 0.99", dist.P99)
	}
}

func TestPercentile_NearestRank(t *testing.T) {
	sorted := []float64{0.1, 0.2, 0.3, 0.4}
	if got := percentile(sorted, 0.50); got != 0.2 {
		t.Fatalf("p50 = %v, want 0.2", got)
	}
	if got := percentile(sorted, 1.0); got != 0.4 {
		t.Fatalf("p100 = %v, want 0.4", got)
	}
	if got := percentile(nil, 0.5); got != 0 {
		t.Fatalf("empty sample = %v, want 0", got)
	}
}

// memCheckpoints mirrors the sqlite repo contract in memory.
type memCheckpoints struct {
	mu   sync.Mutex
	rows map[string]*domain.JobCheckpoint
}

func (m *memCheckpoints) Load(ctx context.Context, jobKind, projectID string) (*domain.JobCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ckpt, ok := m.rows[jobKind+"/"+projectID]
	if !ok {
		return nil, nil
	}
	cp := *ckpt
	return &cp, nil
}

func (m *memCheckpoints) Save(ctx context.Context, ckpt *domain.JobCheckpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows == nil {
		m.rows = make(map[string]*domain.JobCheckpoint)
	}
	cp := *ckpt
	m.rows[ckpt.JobKind+"/"+ckpt.ProjectID] = &cp
	return nil
}

func (m *memCheckpoints) Clear(ctx context.Context, jobKind, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, jobKind+"/"+projectID)
	return nil
}
