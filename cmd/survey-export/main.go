// Command survey-export writes the stored survey submissions to an xlsx file.
//
//	survey-export [-o health_data.xlsx]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/config"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/survey"
	surveyrepo "github.com/ovaphlow/pitchfork/service-lungcheck/internal/survey/repo"
	"github.com/ovaphlow/pitchfork/service-lungcheck/pkg/database"
	"github.com/ovaphlow/pitchfork/service-lungcheck/pkg/utilities"
)

func main() {
	out := flag.String("o", "health_data.xlsx", "output file")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	lg, err := utilities.Init(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()
	sugar := lg.Sugar()

	db, err := database.Open(cfg.Database)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	f, err := os.Create(*out)
	if err != nil {
		sugar.Fatalf("create %s: %v", *out, err)
	}
	n, err := survey.Export(context.Background(), surveyrepo.NewRecordRepo(db), f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		sugar.Fatalf("export: %v", err)
	}
	sugar.Infow("exported survey records", "rows", n, "file", *out)
}
