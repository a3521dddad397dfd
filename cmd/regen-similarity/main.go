package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/strataline/graphmind/internal/data/graph"
	"github.com/strataline/graphmind/internal/jobs/similarity"
	"github.com/strataline/graphmind/internal/platform/logger"
	"github.com/strataline/graphmind/internal/platform/neo4jdb"
	"github.com/strataline/graphmind/internal/repos"
)

func main() {
	var projectID string
	var nodeID string
	var resume bool
	var analyze bool
	var sampleSize int
	flag.StringVar(&projectID, "project", "", "project id (required)")
	flag.StringVar(&nodeID, "node", "", "regenerate a single node instead of the whole corpus")
	flag.BoolVar(&resume, "resume", false, "resume from the last committed checkpoint")
	flag.BoolVar(&analyze, "analyze", false, "print the neighbor score distribution and exit")
	flag.IntVar(&sampleSize, "sample", 200, "sample size for -analyze")
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

	db, err := repos.OpenSQLite("", log)
	if err != nil {
		fmt.Printf("open job state db: %v\n", err)
		os.Exit(1)
	}

	store := graph.NewStore(client, log)
	matcher := similarity.NewMatcher(store, repos.NewCheckpointRepo(db, log), similarity.ConfigFromEnv(), log)

	switch {
	case analyze:
		dist, err := matcher.AnalyzeDistribution(ctx, projectID, sampleSize)
		if err != nil {
			fmt.Printf("analyze failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("sample=%d p50=%.4f p75=%.4f p90=%.4f p95=%.4f p99=%.4f\n",
			dist.SampleSize, dist.P50, dist.P75, dist.P90, dist.P95, dist.P99)
	case nodeID != "":
		res, err := matcher.RegenerateOne(ctx, projectID, nodeID)
		if err != nil {
			fmt.Printf("regenerate failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("node=%s created=%d discarded=%d mean=%.4f gated=%t\n",
			res.NodeID, res.Created, res.Discarded, res.MeanScore, res.QualityGate)
	default:
		summary, err := matcher.RegenerateAll(ctx, projectID, resume)
		if err != nil {
			fmt.Printf("regenerate failed: %v (rerun with -resume to continue)\n", err)
			os.Exit(1)
		}
		fmt.Printf("done; processed=%d skipped=%d failed=%d took=%s\n",
			summary.Processed, summary.Skipped, summary.Failed, summary.Duration)
	}
}
