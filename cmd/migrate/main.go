// Command migrate applies or reverts the embedded schema migrations.
//
//	migrate [up|down|status]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/config"
	"github.com/ovaphlow/pitchfork/service-lungcheck/pkg/database"
	"github.com/ovaphlow/pitchfork/service-lungcheck/pkg/utilities"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// init logger
	lg, err := utilities.Init(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()
	sugar := lg.Sugar()

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	// init db
	sqlDB, err := database.Connect(cfg.Database)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer sqlDB.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "up":
		err = database.Migrate(ctx, sqlDB, cfg.Database.Driver, sugar)
	case "down":
		err = database.Rollback(ctx, sqlDB, cfg.Database.Driver, sugar)
	case "status":
	default:
		sugar.Fatalf("unknown command %q, want up, down or status", cmd)
	}
	if err != nil {
		sugar.Fatalf("%s: %v", cmd, err)
	}

	v, err := database.MigrationVersion(ctx, sqlDB, cfg.Database.Driver)
	if err != nil {
		sugar.Fatalf("read version: %v", err)
	}
	sugar.Infow("schema version", "driver", cfg.Database.Driver, "version", v)
}
