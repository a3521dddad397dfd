package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/strataline/graphmind/internal/graph/schema"
	"github.com/strataline/graphmind/internal/platform/logger"
	"github.com/strataline/graphmind/internal/platform/neo4jdb"
)

func main() {
	var verifyOnly bool
	flag.BoolVar(&verifyOnly, "verify", false, "check expected constraints and indexes without applying")
	flag.Parse()

	log, err := logger.New(os.Getenv("APP_ENV"))
	if err != nil {
		fmt.Printf("init logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	client, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		fmt.Printf("init graph client: %v\n", err)
		os.Exit(1)
	}
	if err := client.Connect(ctx); err != nil {
		fmt.Printf("connect: %v\n", err)
		os.Exit(1)
	}
	defer client.Close(ctx)

	mgr := schema.NewManager(client, schema.ConfigFromEnv(), log)

	if verifyOnly {
		if err := mgr.Verify(ctx); err != nil {
			fmt.Printf("verify failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("schema verified")
		return
	}

	if err := mgr.Apply(ctx); err != nil {
		fmt.Printf("migrate failed: %v\n", err)
		os.Exit(1)
	}
	if err := mgr.Verify(ctx); err != nil {
		fmt.Printf("post-migrate verify failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("migrations applied")
}
