package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/strataline/graphmind/internal/clients/embeddings"
	"github.com/strataline/graphmind/internal/data/graph"
	"github.com/strataline/graphmind/internal/jobs/embedding"
	"github.com/strataline/graphmind/internal/platform/logger"
	"github.com/strataline/graphmind/internal/platform/neo4jdb"
	"github.com/strataline/graphmind/internal/repos"
)

func main() {
	var projectID string
	var resume bool
	flag.StringVar(&projectID, "project", "", "project id to backfill (required)")
	flag.BoolVar(&resume, "resume", false, "resume from the last committed checkpoint")
	flag.Parse()

	if strings.TrimSpace(projectID) == "" {
		fmt.Println("missing -project")
		os.Exit(1)
	}

	log, err := logger.New(os.Getenv("APP_ENV"))
	if err != nil {
		fmt.Printf("init logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		fmt.Printf("init graph client: %v\n", err)
		os.Exit(1)
	}
	if err := client.Connect(ctx); err != nil {
		fmt.Printf("connect: %v\n", err)
		os.Exit(1)
	}
	defer client.Close(context.Background())

	embedClient, err := embeddings.NewFromEnv(log)
	if err != nil {
		fmt.Printf("init embeddings client: %v\n", err)
		os.Exit(1)
	}

	db, err := repos.OpenSQLite("", log)
	if err != nil {
		fmt.Printf("open job state db: %v\n", err)
		os.Exit(1)
	}

	store := graph.NewStore(client, log)
	pipeline := embedding.NewPipeline(store, embedClient, repos.NewCheckpointRepo(db, log), embedding.ConfigFromEnv(), log)

	summary, err := pipeline.Run(ctx, projectID, resume)
	if err != nil {
		fmt.Printf("backfill failed: %v (rerun with -resume to continue)\n", err)
		os.Exit(1)
	}
	fmt.Printf("done; processed=%d skipped=%d failed=%d took=%s\n",
		summary.Processed, summary.Skipped, summary.Failed, summary.Duration)
}
