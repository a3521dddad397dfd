package neo4jdb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"

	"github.com/strataline/graphmind/internal/domain"
	"github.com/strataline/graphmind/internal/platform/envutil"
	"github.com/strataline/graphmind/internal/platform/logger"
)

type Config struct {
	URI         string
	User        string
	Password    string
	Database    string
	TimeoutSec  int
	MaxPoolSize int
}

func ConfigFromEnv() Config {
	return Config{
		URI:         envutil.Str("NEO4J_URI", ""),
		User:        envutil.Str("NEO4J_USER", "neo4j"),
		Password:    envutil.Str("NEO4J_PASSWORD", ""),
		Database:    envutil.Str("NEO4J_DATABASE", ""),
		TimeoutSec:  envutil.Int("NEO4J_TIMEOUT_SECONDS", 10),
		MaxPoolSize: envutil.Int("NEO4J_MAX_POOL_SIZE", 50),
	}
}

// Client owns the pooled Neo4j driver. Construct with New and inject into
// every component; nothing in this package holds a process-wide instance.
type Client struct {
	cfg Config
	log *logger.Logger

	mu     sync.Mutex
	driver neo4j.DriverWithContext
}

func New(cfg Config, log *logger.Logger) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("neo4jdb: logger required")
	}
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, fmt.Errorf("neo4jdb: uri required: %w", domain.ErrInvalid)
	}
	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = 10
	}
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = 50
	}
	return &Client{
		cfg: cfg,
		log: log.With("client", "Neo4jDB"),
	}, nil
}

func NewFromEnv(log *logger.Logger) (*Client, error) {
	return New(ConfigFromEnv(), log)
}

// Connect dials and verifies connectivity. A second Connect on an already
// connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.driver != nil {
		return nil
	}

	auth := neo4j.BasicAuth(c.cfg.User, c.cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(c.cfg.URI, auth, func(cfg *neo4j.Config) {
		cfg.MaxConnectionPoolSize = c.cfg.MaxPoolSize
		cfg.SocketConnectTimeout = time.Duration(c.cfg.TimeoutSec) * time.Second
	})
	if err != nil {
		return fmt.Errorf("neo4jdb: init driver: %w: %w", err, domain.ErrUnavailable)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.TimeoutSec)*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return fmt.Errorf("neo4jdb: verify connectivity: %w: %w", err, domain.ErrUnavailable)
	}

	c.driver = driver
	return nil
}

// Close is idempotent; a closed or never-connected client closes cleanly.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.driver == nil {
		return nil
	}
	err := c.driver.Close(ctx)
	c.driver = nil
	return err
}

func (c *Client) connected() (neo4j.DriverWithContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.driver == nil {
		return nil, fmt.Errorf("neo4jdb: not connected: %w", domain.ErrUnavailable)
	}
	return c.driver, nil
}

// Query runs a read statement with bound parameters and returns the collected
// records. Parameters are always bound, never interpolated into the statement
// text.
func (c *Client) Query(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	driver, err := c.connected()
	if err != nil {
		return nil, err
	}
	session := driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: c.cfg.Database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, classifyErr(err)
	}
	records, _ := out.([]*neo4j.Record)
	return records, nil
}

// QueryRecords runs a read statement and flattens each record into a plain
// key → value map.
func (c *Client) QueryRecords(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	records, err := c.Query(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		row := make(map[string]any, len(rec.Keys))
		for i, key := range rec.Keys {
			row[key] = rec.Values[i]
		}
		out = append(out, row)
	}
	return out, nil
}

// Write runs fn inside a single managed write transaction so a reader never
// observes a partially-applied logical write.
func (c *Client) Write(ctx context.Context, fn func(tx neo4j.ManagedTransaction) (any, error)) (any, error) {
	driver, err := c.connected()
	if err != nil {
		return nil, err
	}
	session := driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.cfg.Database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, fn)
	if err != nil {
		return nil, classifyErr(err)
	}
	return out, nil
}

// Exec runs a single write statement and discards the records.
func (c *Client) Exec(ctx context.Context, cypher string, params map[string]any) error {
	_, err := c.Write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		_, err = res.Consume(ctx)
		return nil, err
	})
	return err
}

// Ping reports whether the store is currently reachable. Used by the
// retrieval layer's availability check before choosing a context source.
func (c *Client) Ping(ctx context.Context) error {
	driver, err := c.connected()
	if err != nil {
		return err
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("neo4jdb: ping: %w: %w", err, domain.ErrUnavailable)
	}
	return nil
}

// classifyErr maps driver errors onto the shared error taxonomy.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var usageErr *neo4j.UsageError
	if errors.As(err, &usageErr) {
		return fmt.Errorf("%v: %w", err, domain.ErrInvalid)
	}
	var neoErr *db.Neo4jError
	if errors.As(err, &neoErr) {
		code := neoErr.Code
		switch {
		case strings.Contains(code, "ConstraintValidationFailed"),
			strings.Contains(code, "Schema.ConstraintViolation"):
			return fmt.Errorf("%v: %w", err, domain.ErrConflict)
		case strings.Contains(code, "SyntaxError"),
			strings.Contains(code, "ParameterMissing"),
			strings.Contains(code, "Statement.TypeError"):
			return fmt.Errorf("%v: %w", err, domain.ErrInvalid)
		case strings.Contains(code, "ServiceUnavailable"),
			strings.Contains(code, "TransientError"):
			return fmt.Errorf("%v: %w", err, domain.ErrUnavailable)
		}
		return err
	}
	if neo4j.IsConnectivityError(err) {
		return fmt.Errorf("%v: %w", err, domain.ErrUnavailable)
	}
	return err
}
