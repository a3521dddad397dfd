package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/strataline/graphmind/internal/clients/embeddings"
	"github.com/strataline/graphmind/internal/domain"
	"github.com/strataline/graphmind/internal/platform/logger"
)

type fakeSource struct {
	mu    sync.Mutex
	nodes []domain.Node
	saved map[string][]float32

	saveErr error
}

func (f *fakeSource) NodesMissingEmbeddings(ctx context.Context, projectID, afterID string, limit int) ([]domain.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Node
	for _, n := range f.nodes {
		if n.ID <= afterID {
			continue
		}
		if _, done := f.saved[n.ID]; done {
			continue
		}
		out = append(out, n)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSource) SaveEmbeddings(ctx context.Context, projectID string, vectors map[string][]float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.saved == nil {
		f.saved = make(map[string][]float32)
	}
	for id, vec := range vectors {
		f.saved[id] = vec
	}
	return nil
}

type fakeEmbedder struct {
	mu       sync.Mutex
	calls    int
	embedded []string
	err      error
	errOnce  bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string, mode embeddings.Mode) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		err := f.err
		if f.errOnce {
			f.err = nil
		}
		return nil, err
	}
	if mode != embeddings.ModeDocument {
		return nil, fmt.Errorf("unexpected mode %q", mode)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		f.embedded = append(f.embedded, texts[i])
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string, mode embeddings.Mode) ([][]float32, error) {
	return f.Embed(ctx, texts, mode)
}

func (f *fakeEmbedder) Dimensions() int { return 3 }

type memCheckpoints struct {
	mu    sync.Mutex
	rows  map[string]*domain.JobCheckpoint
	saves int
}

func ckptKey(jobKind, projectID string) string { return jobKind + "/" + projectID }

func (m *memCheckpoints) Load(ctx context.Context, jobKind, projectID string) (*domain.JobCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ckpt, ok := m.rows[ckptKey(jobKind, projectID)]
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
	m.rows[ckptKey(ckpt.JobKind, ckpt.ProjectID)] = &cp
	m.saves++
	return nil
}

func (m *memCheckpoints) Clear(ctx context.Context, jobKind, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, ckptKey(jobKind, projectID))
	return nil
}

func makeNodes(n int) []domain.Node {
	out := make([]domain.Node, n)
	for i := range out {
		out[i] = domain.Node{
			ID:        fmt.Sprintf("node-%03d", i),
			Kind:      domain.KindDecision,
			Title:     fmt.Sprintf("Decision %d", i),
			Content:   fmt.Sprintf("content %d", i),
			ProjectID: "p1",
		}
	}
	return out
}

func newTestPipeline(source *fakeSource, embed *fakeEmbedder, ckpts *memCheckpoints, cfg Config) *Pipeline {
	return NewPipeline(source, embed, ckpts, cfg, logger.NewNop())
}

func TestRun_EmbedsEverythingAndClearsCheckpoint(t *testing.T) {
	source := &fakeSource{nodes: makeNodes(25)}
	embed := &fakeEmbedder{}
	ckpts := &memCheckpoints{}
	p := newTestPipeline(source, embed, ckpts, Config{PageSize: 10, ChunkSize: 4, Concurrency: 2})

	summary, err := p.Run(context.Background(), "p1", false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Processed != 25 || summary.Skipped != 0 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(source.saved) != 25 {
		t.Fatalf("saved %d vectors, want 25", len(source.saved))
	}
	if ckpt, _ := ckpts.Load(context.Background(), domain.JobKindEmbedBackfill, "p1"); ckpt != nil {
		t.Fatalf("finished run left a checkpoint: %+v", ckpt)
	}
}

func TestRun_SkipsEmptyContent(t *testing.T) {
	nodes := makeNodes(5)
	nodes[1].Title = ""
	nodes[1].Content = "   "
	nodes[3].Title = " "
	nodes[3].Content = ""
	source := &fakeSource{nodes: nodes}
	embed := &fakeEmbedder{}
	p := newTestPipeline(source, embed, &memCheckpoints{}, Config{PageSize: 10, ChunkSize: 4, Concurrency: 1})

	summary, err := p.Run(context.Background(), "p1", false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Processed != 3 || summary.Skipped != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	if _, ok := source.saved[nodes[1].ID]; ok {
		t.Fatal("empty node was embedded")
	}
}

func TestRun_ProviderFailureCountsAndContinues(t *testing.T) {
	source := &fakeSource{nodes: makeNodes(8)}
	embed := &fakeEmbedder{err: errors.New("transient"), errOnce: true}
	p := newTestPipeline(source, embed, &memCheckpoints{}, Config{PageSize: 10, ChunkSize: 4, Concurrency: 1})

	summary, err := p.Run(context.Background(), "p1", false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Failed != 4 {
		t.Fatalf("failed = %d, want the first chunk of 4", summary.Failed)
	}
	if summary.Processed != 4 {
		t.Fatalf("processed = %d, want 4", summary.Processed)
	}
}

func TestRun_AuthFailureAborts(t *testing.T) {
	source := &fakeSource{nodes: makeNodes(8)}
	embed := &fakeEmbedder{err: fmt.Errorf("provider: %w", embeddings.ErrAuth)}
	p := newTestPipeline(source, embed, &memCheckpoints{}, Config{PageSize: 10, ChunkSize: 4, Concurrency: 1})

	_, err := p.Run(context.Background(), "p1", false)
	if !errors.Is(err, embeddings.ErrAuth) {
		t.Fatalf("want abort on auth rejection, got %v", err)
	}
	if len(source.saved) != 0 {
		t.Fatal("vectors committed despite aborted run")
	}
}

func TestRun_CheckpointWrittenAfterCommit(t *testing.T) {
	source := &fakeSource{nodes: makeNodes(10), saveErr: errors.New("graph down")}
	embed := &fakeEmbedder{}
	ckpts := &memCheckpoints{}
	p := newTestPipeline(source, embed, ckpts, Config{PageSize: 5, ChunkSize: 5, Concurrency: 1})

	if _, err := p.Run(context.Background(), "p1", false); err == nil {
		t.Fatal("expected commit failure to fail the run")
	}
	if ckpts.saves != 0 {
		t.Fatal("checkpoint written for an uncommitted page")
	}
}

func TestRun_ResumeSkipsCommittedPages(t *testing.T) {
	source := &fakeSource{nodes: makeNodes(20)}
	embed := &fakeEmbedder{}
	ckpts := &memCheckpoints{}
	_ = ckpts.Save(context.Background(), &domain.JobCheckpoint{
		JobKind:         domain.JobKindEmbedBackfill,
		ProjectID:       "p1",
		LastProcessedID: "node-009",
		ProcessedCount:  10,
	})
	p := newTestPipeline(source, embed, ckpts, Config{PageSize: 5, ChunkSize: 5, Concurrency: 1})

	summary, err := p.Run(context.Background(), "p1", true)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Processed != 20 {
		t.Fatalf("resumed summary should carry prior counts: %+v", summary)
	}
	for _, text := range embed.embedded {
		for i := 0; i < 10; i++ {
			if text == fmt.Sprintf("Decision %d\n\ncontent %d", i, i) {
				t.Fatalf("node %d re-embedded after resume", i)
			}
		}
	}
	if len(embed.embedded) != 10 {
		t.Fatalf("embedded %d nodes after resume, want 10", len(embed.embedded))
	}
}

func TestRun_FreshRunDiscardsStaleCheckpoint(t *testing.T) {
	source := &fakeSource{nodes: makeNodes(6)}
	ckpts := &memCheckpoints{}
	_ = ckpts.Save(context.Background(), &domain.JobCheckpoint{
		JobKind:         domain.JobKindEmbedBackfill,
		ProjectID:       "p1",
		LastProcessedID: "node-004",
		ProcessedCount:  5,
	})
	p := newTestPipeline(source, &fakeEmbedder{}, ckpts, Config{PageSize: 10, ChunkSize: 10, Concurrency: 1})

	summary, err := p.Run(context.Background(), "p1", false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Processed != 6 {
		t.Fatalf("fresh run honored a stale checkpoint: %+v", summary)
	}
}

func TestChunkNodes(t *testing.T) {
	chunks := chunkNodes(makeNodes(10), 4)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if len(chunks[2]) != 2 {
		t.Fatalf("tail chunk has %d nodes, want 2", len(chunks[2]))
	}
	if chunkNodes(nil, 4) != nil {
		t.Fatal("empty input should produce no chunks")
	}
}
