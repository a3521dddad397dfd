package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/strataline/graphmind/internal/clients/embeddings"
	redisclient "github.com/strataline/graphmind/internal/clients/redis"
	"github.com/strataline/graphmind/internal/data/graph"
	"github.com/strataline/graphmind/internal/domain"
	"github.com/strataline/graphmind/internal/platform/logger"
)

// docGraph is the slice of the graph store the sync service touches.
type docGraph interface {
	UpsertNode(ctx context.Context, node *domain.Node) (graph.UpsertResult, error)
	SaveEmbeddings(ctx context.Context, projectID string, vectors map[string][]float32) error
	RecordSessionActivity(ctx context.Context, projectID, sessionID, relType string, nodeIDs []string) error
}

// SyncResult reports what a document upsert did.
type SyncResult struct {
	NodeID         string
	Created        bool
	ContentChanged bool
	EmbedQueued    bool
}

type embedJob struct {
	projectID string
	nodeID    string
	text      string
}

// DocumentSyncService upserts knowledge nodes, mirrors them into the fallback
// cache, and queues embedding of changed content to a background worker so
// ingestion never blocks on the embeddings provider.
type DocumentSyncService struct {
	store docGraph
	cache redisclient.DocCache
	embed embeddings.Client
	log   *logger.Logger

	jobs chan embedJob
	wg   sync.WaitGroup

	closeOnce sync.Once
}

func NewDocumentSyncService(store docGraph, cache redisclient.DocCache, embed embeddings.Client, baseLog *logger.Logger) *DocumentSyncService {
	s := &DocumentSyncService{
		store: store,
		cache: cache,
		embed: embed,
		log:   baseLog.With("service", "DocumentSync"),
		jobs:  make(chan embedJob, 256),
	}
	s.wg.Add(1)
	go s.embedWorker()
	return s
}

// SyncDocument upserts one knowledge node. The write to the graph is
// authoritative; the cache mirror and the embed enqueue are best-effort and
// never fail the sync.
func (s *DocumentSyncService) SyncDocument(ctx context.Context, projectID, nodeID string, kind domain.NodeKind, title, content string, tags []string) (SyncResult, error) {
	if strings.TrimSpace(projectID) == "" || strings.TrimSpace(nodeID) == "" {
		return SyncResult{}, fmt.Errorf("sync document: project_id and node id required: %w", domain.ErrInvalid)
	}
	if !domain.ValidKind(kind) {
		return SyncResult{}, fmt.Errorf("sync document: unknown kind %q: %w", kind, domain.ErrInvalid)
	}

	node := &domain.Node{
		ID:        nodeID,
		Kind:      kind,
		Title:     title,
		Content:   content,
		Tags:      tags,
		ProjectID: projectID,
	}
	res, err := s.store.UpsertNode(ctx, node)
	if err != nil {
		return SyncResult{}, fmt.Errorf("sync document: upsert: %w", err)
	}

	if s.cache != nil {
		node.UpdatedAt = time.Now().UTC()
		if cerr := s.cache.Put(ctx, node); cerr != nil {
			s.log.Warn("Doc cache mirror failed", "project_id", projectID, "node_id", nodeID, "error", cerr.Error())
		}
	}

	out := SyncResult{
		NodeID:         nodeID,
		Created:        res.Created,
		ContentChanged: res.ContentChanged,
	}
	if (res.Created || res.ContentChanged) && node.HasContent() {
		out.EmbedQueued = s.enqueue(embedJob{
			projectID: projectID,
			nodeID:    nodeID,
			text:      node.EmbeddableText(),
		})
	}
	return out, nil
}

// RecordSessionActivity writes append-only temporal edges from a session to
// the nodes it touched.
func (s *DocumentSyncService) RecordSessionActivity(ctx context.Context, projectID, sessionID, relType string, nodeIDs []string) error {
	if !domain.ValidTemporalRelationship(relType) {
		return fmt.Errorf("record activity: unknown relationship %q: %w", relType, domain.ErrInvalid)
	}
	if len(nodeIDs) == 0 {
		return nil
	}
	return s.store.RecordSessionActivity(ctx, projectID, sessionID, relType, nodeIDs)
}

func (s *DocumentSyncService) enqueue(job embedJob) bool {
	select {
	case s.jobs <- job:
		return true
	default:
		s.log.Warn("Embed queue full, node left for backfill", "project_id", job.projectID, "node_id", job.nodeID)
		return false
	}
}

func (s *DocumentSyncService) embedWorker() {
	defer s.wg.Done()
	for job := range s.jobs {
		s.runEmbedJob(job)
	}
}

func (s *DocumentSyncService) runEmbedJob(job embedJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	vecs, err := s.embed.Embed(ctx, []string{job.text}, embeddings.ModeDocument)
	if err != nil {
		s.log.Warn("Async embed failed, node left for backfill", "project_id", job.projectID, "node_id", job.nodeID, "error", err.Error())
		return
	}
	if len(vecs) != 1 {
		s.log.Warn("Async embed returned unexpected vector count", "project_id", job.projectID, "node_id", job.nodeID)
		return
	}
	if err := s.store.SaveEmbeddings(ctx, job.projectID, map[string][]float32{job.nodeID: vecs[0]}); err != nil {
		s.log.Warn("Async embed save failed, node left for backfill", "project_id", job.projectID, "node_id", job.nodeID, "error", err.Error())
	}
}

// Close drains queued embed jobs and stops the worker.
func (s *DocumentSyncService) Close() {
	s.closeOnce.Do(func() {
		close(s.jobs)
	})
	s.wg.Wait()
}
