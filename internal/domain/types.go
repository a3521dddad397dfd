package domain

import (
	"strings"
	"time"
)

// NodeKind is the Neo4j label of a knowledge node.
type NodeKind string

const (
	KindDecision      NodeKind = "Decision"
	KindRequirement   NodeKind = "Requirement"
	KindPattern       NodeKind = "Pattern"
	KindGotcha        NodeKind = "Gotcha"
	KindSession       NodeKind = "Session"
	KindCodeFile      NodeKind = "CodeFile"
	KindContextModule NodeKind = "ContextModule"
	KindSprint        NodeKind = "Sprint"
	KindTask          NodeKind = "Task"
	KindEpic          NodeKind = "Epic"
)

// KnowledgeKinds are the node kinds that carry embeddable free text and
// participate in similarity generation.
var KnowledgeKinds = []NodeKind{
	KindDecision,
	KindRequirement,
	KindPattern,
	KindGotcha,
	KindSession,
	KindCodeFile,
	KindContextModule,
}

func ValidKind(k NodeKind) bool {
	switch k {
	case KindDecision, KindRequirement, KindPattern, KindGotcha, KindSession,
		KindCodeFile, KindContextModule, KindSprint, KindTask, KindEpic:
		return true
	default:
		return false
	}
}

// Node is the common projection of a knowledge node. Every persisted node
// carries ProjectID; queries outside admin/migration scope must filter on it.
type Node struct {
	ID        string
	Kind      NodeKind
	Title     string
	Content   string
	Tags      []string
	ProjectID string
	Embedding []float32
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (n *Node) HasContent() bool {
	return strings.TrimSpace(n.Content) != "" || strings.TrimSpace(n.Title) != ""
}

// EmbeddableText is the text handed to the embedding provider.
func (n *Node) EmbeddableText() string {
	title := strings.TrimSpace(n.Title)
	content := strings.TrimSpace(n.Content)
	switch {
	case title == "":
		return content
	case content == "":
		return title
	default:
		return title + "\n\n" + content
	}
}

// Relationship types. The four similarity tiers are written only by the
// similarity matcher and are fully replaceable derived state.
const (
	RelContains       = "CONTAINS"
	RelImplements     = "IMPLEMENTS"
	RelReferences     = "REFERENCES"
	RelDependsOn      = "DEPENDS_ON"
	RelModifies       = "MODIFIES"
	RelMustFollow     = "MUST_FOLLOW"
	RelAppliesPattern = "APPLIES_PATTERN"
	RelAvoidGotcha    = "AVOID_GOTCHA"

	RelDuplicateOf      = "DUPLICATE_OF"
	RelHighlyRelatedTo  = "HIGHLY_RELATED_TO"
	RelRelatedTo        = "RELATED_TO"
	RelLooselyRelatedTo = "LOOSELY_RELATED_TO"
)

// TraversalRelationships are the typed edges followed by bounded graph
// traversal. Temporal session edges are excluded; they form an audit trail,
// not a relevance signal.
var TraversalRelationships = []string{
	RelContains,
	RelImplements,
	RelReferences,
	RelDependsOn,
	RelModifies,
	RelMustFollow,
	RelAppliesPattern,
	RelAvoidGotcha,
	RelDuplicateOf,
	RelHighlyRelatedTo,
	RelRelatedTo,
}

// SimilarityRelationships in tier order, strongest first.
var SimilarityRelationships = []string{
	RelDuplicateOf,
	RelHighlyRelatedTo,
	RelRelatedTo,
	RelLooselyRelatedTo,
}

// Temporal relationships linking a Session to knowledge it touched. Sessions
// are append-only: never mutated after they end, only referenced.
const (
	RelCreated     = "CREATED"
	RelModified    = "MODIFIED"
	RelDiscovered  = "DISCOVERED"
	RelValidated   = "VALIDATED"
	RelEncountered = "ENCOUNTERED"
)

func ValidTemporalRelationship(rel string) bool {
	switch rel {
	case RelCreated, RelModified, RelDiscovered, RelValidated, RelEncountered:
		return true
	default:
		return false
	}
}

// TierThresholds holds the score cut-offs for similarity edge classification.
// LooseThreshold <= 0 disables the LOOSELY_RELATED_TO tier entirely.
type TierThresholds struct {
	Duplicate float64
	Highly    float64
	Related   float64
	Loose     float64
}

func DefaultTierThresholds() TierThresholds {
	return TierThresholds{
		Duplicate: 0.95,
		Highly:    0.85,
		Related:   0.75,
		Loose:     0,
	}
}

// TierForScore maps a similarity score onto a relationship type. Returns ""
// when the score falls below every enabled tier. Monotonic: a higher score
// never maps to a weaker tier.
func TierForScore(score float64, t TierThresholds) string {
	switch {
	case score >= t.Duplicate:
		return RelDuplicateOf
	case score >= t.Highly:
		return RelHighlyRelatedTo
	case score >= t.Related:
		return RelRelatedTo
	case t.Loose > 0 && score >= t.Loose:
		return RelLooselyRelatedTo
	default:
		return ""
	}
}

// SearchHit is a scored node reference returned by full-text or vector
// search.
type SearchHit struct {
	Node  Node
	Score float64
}

// TraversalHit is a node reached by bounded traversal, annotated with its hop
// distance from the seed set.
type TraversalHit struct {
	Node     Node
	Distance int
}

// SimilarityEdge is one generated similarity relationship.
type SimilarityEdge struct {
	FromID string
	ToID   string
	Type   string
	Score  float64
}

// Sprint/Task/Epic projections used by the active-work selector.

type SprintStatus string

const (
	SprintNotStarted SprintStatus = "not_started"
	SprintActive     SprintStatus = "active"
	SprintCompleted  SprintStatus = "completed"
)

type EpicLane string

const (
	LaneNow     EpicLane = "now"
	LaneNext    EpicLane = "next"
	LaneLater   EpicLane = "later"
	LaneDone    EpicLane = "done"
	LaneDropped EpicLane = "dropped"
)

// LanePriority orders epic lanes for tie-breaks; lower is more urgent. Lanes
// outside the roadmap sort last.
func LanePriority(l EpicLane) int {
	switch l {
	case LaneNow:
		return 0
	case LaneNext:
		return 1
	case LaneLater:
		return 2
	default:
		return 3
	}
}

type Sprint struct {
	ID             string
	ProjectID      string
	Title          string
	Status         SprintStatus
	Progress       float64
	TaskCount      int
	DoneTaskCount  int
	EpicID         string
	EpicLane       EpicLane
	LastActivityAt *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
}

func (s *Sprint) Complete() bool {
	if s.Status == SprintCompleted {
		return true
	}
	return s.TaskCount > 0 && s.DoneTaskCount >= s.TaskCount
}

type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskBlocked    TaskStatus = "blocked"
	TaskDone       TaskStatus = "done"
)

type Task struct {
	ID            string
	ProjectID     string
	SprintID      string
	Title         string
	Status        TaskStatus
	Priority      int
	Assignee      string
	BlockedReason string
	UpdatedAt     time.Time
	CreatedAt     time.Time
}

type Epic struct {
	ID        string
	ProjectID string
	Title     string
	Lane      EpicLane
	Status    string
	UpdatedAt time.Time
}

// Alert summarizes work competing with the selected sprint.
type Alert struct {
	Kind    string // "sprint", "epic", "overflow", "celebration"
	ID      string
	Message string
}

// RunSummary is the terminal report of a batch job. Quality-gate skips are
// not failures; they are counted separately.
type RunSummary struct {
	JobKind   string
	ProjectID string
	Processed int
	Skipped   int
	Failed    int
	StartedAt time.Time
	Duration  time.Duration
}
