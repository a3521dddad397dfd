package schema

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/strataline/graphmind/internal/domain"
	"github.com/strataline/graphmind/internal/platform/envutil"
	"github.com/strataline/graphmind/internal/platform/logger"
)

// Runner is the slice of the graph client the schema manager needs.
// *neo4jdb.Client satisfies it.
type Runner interface {
	Exec(ctx context.Context, cypher string, params map[string]any) error
	QueryRecords(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
}

// Migration is one named, strictly ordered schema step. Every statement must
// be idempotent (IF NOT EXISTS) so re-running the full sequence on an
// already-migrated store is a no-op.
type Migration struct {
	Name       string
	Statements []string
}

type Config struct {
	// VectorDimensions is the fixed embedding width of the vector indexes.
	VectorDimensions int
}

func ConfigFromEnv() Config {
	return Config{
		VectorDimensions: envutil.Int("GRAPH_VECTOR_DIMENSIONS", 1536),
	}
}

type Manager struct {
	run Runner
	cfg Config
	log *logger.Logger
}

func NewManager(run Runner, cfg Config, log *logger.Logger) *Manager {
	if cfg.VectorDimensions <= 0 {
		cfg.VectorDimensions = 1536
	}
	return &Manager{
		run: run,
		cfg: cfg,
		log: log.With("component", "SchemaManager"),
	}
}

// Migrations returns the full ordered sequence.
func (m *Manager) Migrations() []Migration {
	kinds := []domain.NodeKind{
		domain.KindDecision, domain.KindRequirement, domain.KindPattern,
		domain.KindGotcha, domain.KindSession, domain.KindCodeFile,
		domain.KindContextModule, domain.KindSprint, domain.KindTask,
		domain.KindEpic,
	}

	var constraints []string
	var rangeIndexes []string
	for _, k := range kinds {
		label := string(k)
		lower := strings.ToLower(label)
		constraints = append(constraints, fmt.Sprintf(
			`CREATE CONSTRAINT %s_id_unique IF NOT EXISTS FOR (n:%s) REQUIRE n.id IS UNIQUE`,
			lower, label,
		))
		rangeIndexes = append(rangeIndexes, fmt.Sprintf(
			`CREATE INDEX %s_project_idx IF NOT EXISTS FOR (n:%s) ON (n.project_id)`,
			lower, label,
		))
	}

	fulltext := fmt.Sprintf(
		`CREATE FULLTEXT INDEX knowledge_fulltext IF NOT EXISTS FOR (n:%s) ON EACH [n.title, n.content]`,
		joinLabels(kinds),
	)

	var vectorIndexes []string
	for _, k := range domain.KnowledgeKinds {
		label := string(k)
		lower := strings.ToLower(label)
		// Index DDL does not accept bound parameters; the dimension is an
		// operator-supplied integer, not caller input.
		vectorIndexes = append(vectorIndexes, fmt.Sprintf(
			`CREATE VECTOR INDEX %s_embedding_idx IF NOT EXISTS FOR (n:%s) ON (n.embedding) `+
				`OPTIONS {indexConfig: {`+"`vector.dimensions`"+`: %d, `+"`vector.similarity_function`"+`: 'cosine'}}`,
			lower, label, m.cfg.VectorDimensions,
		))
	}

	return []Migration{
		{Name: "001_node_id_constraints", Statements: constraints},
		{Name: "002_project_range_indexes", Statements: rangeIndexes},
		{Name: "003_knowledge_fulltext_index", Statements: []string{fulltext}},
		{Name: "004_embedding_vector_indexes", Statements: vectorIndexes},
	}
}

// Apply runs the whole sequence in order. The first failing step aborts the
// run and the error names that step; there is no silent skipping.
func (m *Manager) Apply(ctx context.Context) error {
	for _, mig := range m.Migrations() {
		if err := m.RunMigration(ctx, mig.Name); err != nil {
			return err
		}
	}
	return nil
}

// RunMigration runs a single named migration and records it in the admin
// bookkeeping node. Unknown names are Invalid.
func (m *Manager) RunMigration(ctx context.Context, name string) error {
	var mig *Migration
	migrations := m.Migrations()
	for i := range migrations {
		if migrations[i].Name == name {
			mig = &migrations[i]
			break
		}
	}
	if mig == nil {
		return fmt.Errorf("schema: unknown migration %q: %w", name, domain.ErrInvalid)
	}

	for _, stmt := range mig.Statements {
		if err := m.run.Exec(ctx, stmt, nil); err != nil {
			return fmt.Errorf("schema: migration %s failed: %w", mig.Name, err)
		}
	}

	// Bookkeeping is admin scope; it is the one write not bound to a project.
	err := m.run.Exec(ctx,
		`MERGE (m:SchemaMigration {name: $name})
		 ON CREATE SET m.applied_at = $now
		 SET m.last_run_at = $now`,
		map[string]any{
			"name": mig.Name,
			"now":  time.Now().UTC().Format(time.RFC3339Nano),
		},
	)
	if err != nil {
		return fmt.Errorf("schema: record migration %s: %w", mig.Name, err)
	}

	m.log.Info("Migration applied", "migration", mig.Name, "statements", len(mig.Statements))
	return nil
}

// Verify checks that every expected constraint and index exists.
func (m *Manager) Verify(ctx context.Context) error {
	wantConstraints := map[string]bool{}
	wantIndexes := map[string]bool{}
	for _, mig := range m.Migrations() {
		for _, stmt := range mig.Statements {
			name := schemaObjectName(stmt)
			if name == "" {
				continue
			}
			if strings.HasPrefix(stmt, "CREATE CONSTRAINT") {
				wantConstraints[name] = true
			} else {
				wantIndexes[name] = true
			}
		}
	}

	rows, err := m.run.QueryRecords(ctx, `SHOW CONSTRAINTS YIELD name RETURN name`, nil)
	if err != nil {
		return fmt.Errorf("schema: show constraints: %w", err)
	}
	for _, row := range rows {
		if name, ok := row["name"].(string); ok {
			delete(wantConstraints, name)
		}
	}

	rows, err = m.run.QueryRecords(ctx, `SHOW INDEXES YIELD name RETURN name`, nil)
	if err != nil {
		return fmt.Errorf("schema: show indexes: %w", err)
	}
	for _, row := range rows {
		if name, ok := row["name"].(string); ok {
			delete(wantIndexes, name)
		}
	}

	if len(wantConstraints) > 0 || len(wantIndexes) > 0 {
		return fmt.Errorf("schema: missing constraints=%v indexes=%v",
			keys(wantConstraints), keys(wantIndexes))
	}
	return nil
}

func joinLabels(kinds []domain.NodeKind) string {
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, string(k))
	}
	return strings.Join(parts, "|")
}

// schemaObjectName extracts the object name from a CREATE CONSTRAINT/INDEX
// statement (third token, before IF NOT EXISTS).
func schemaObjectName(stmt string) string {
	fields := strings.Fields(stmt)
	if len(fields) < 3 || fields[0] != "CREATE" {
		return ""
	}
	switch fields[1] {
	case "CONSTRAINT", "INDEX":
		return fields[2]
	case "FULLTEXT", "VECTOR":
		if len(fields) >= 4 && fields[2] == "INDEX" {
			return fields[3]
		}
	}
	return ""
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
