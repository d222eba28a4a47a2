package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/database"
	"github.com/stemsi/exstem-grader/internal/logger"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/repository"
	"github.com/stemsi/exstem-grader/internal/service"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "Validate the files without writing anything")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: seed-exam [flags] <exam.json>...")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	imports := make([]*model.ExamImport, 0, flag.NArg())
	for _, path := range flag.Args() {
		imp, err := readImport(path)
		if err != nil {
			log.Fatal().Err(err).Str("file", path).Msg("Failed to read exam file")
		}
		imports = append(imports, imp)
	}

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// Redis only matters for dropping the cached catalog; seeding works without it.
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, cached exam list will expire on its own")
		rdb = nil
	} else {
		defer rdb.Close()
	}

	catalog := service.NewCatalogService(
		repository.NewExamRepository(pool),
		repository.NewQuestionRepository(pool),
		rdb, cfg.CatalogCacheTTL, log,
	)

	fmt.Printf("=== Seeding %d exam(s) ===\n", len(imports))

	failed := 0
	for i, imp := range imports {
		path := flag.Arg(i)
		if *dryRun {
			if err := catalog.Validate(imp); err != nil {
				failed++
				printImportError(path, err)
				continue
			}
			fmt.Printf("%s: ok (%d questions)\n", path, len(imp.Questions))
			continue
		}

		id, err := catalog.Import(ctx, imp)
		if err != nil {
			failed++
			printImportError(path, err)
			continue
		}
		fmt.Printf("%s: imported %q as exam %d\n", path, imp.Title, id)
	}

	fmt.Printf("\nSeed completed! %d/%d exam(s) succeeded.\n", len(imports)-failed, len(imports))
	if failed > 0 {
		os.Exit(1)
	}
}

func readImport(path string) (*model.ExamImport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var imp model.ExamImport
	if err := json.Unmarshal(data, &imp); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &imp, nil
}

func printImportError(path string, err error) {
	var ie *service.ImportError
	if errors.As(err, &ie) {
		fmt.Printf("%s: invalid\n", path)
		for field, msg := range ie.Fields {
			fmt.Printf("  %s: %s\n", field, msg)
		}
		return
	}
	fmt.Printf("%s: %v\n", path, err)
}
