package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/yashrajoria/course-access-service/config"
	"github.com/yashrajoria/course-access-service/database"
	"github.com/yashrajoria/course-access-service/models"
	aws_pkg "github.com/yashrajoria/course-access-service/pkg/aws"
	"github.com/yashrajoria/course-access-service/repository"
	"go.uber.org/zap"
)

// legacyEventPrefix marks imported records, which predate event tracking.
const legacyEventPrefix = "legacy:"

func main() {
	var file, backend string
	flag.StringVar(&file, "file", os.Getenv("ACCESS_CODES_FILE"), "legacy accessCodes.json to import")
	flag.StringVar(&backend, "backend", os.Getenv("STORE_BACKEND"), "target store: postgres or dynamodb")
	flag.Parse()

	if file == "" {
		log.Fatal("ACCESS_CODES_FILE must be set or provided via -file")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if backend != "" {
		cfg.StoreBackend = backend
	}

	ctx := context.Background()
	logger := zap.NewNop()

	src, err := repository.NewFileAccessCodeRepository(file)
	if err != nil {
		log.Fatalf("open %s: %v", file, err)
	}
	recs, err := src.All(ctx)
	if err != nil {
		log.Fatalf("read %s: %v", file, err)
	}

	var dst repository.AccessCodeRepository
	switch cfg.StoreBackend {
	case config.StoreBackendDynamoDB:
		awsCfg, err := aws_pkg.LoadAWSConfig(ctx)
		if err != nil {
			log.Fatalf("aws config: %v", err)
		}
		client := database.NewDynamoClient(awsCfg)
		if err := database.EnsureTable(ctx, client, cfg.DynamoDBTable, logger); err != nil {
			log.Fatalf("dynamodb table: %v", err)
		}
		dst = repository.NewDynamoAccessCodeRepository(client, cfg.DynamoDBTable)
	case config.StoreBackendPostgres:
		db, err := database.ConnectPostgres(cfg.PostgresDSN(), logger, &models.AccessCode{}, &models.UnreconciledEvent{})
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer database.Close(db) //nolint:errcheck
		dst = repository.NewGormAccessCodeRepository(db)
	default:
		log.Fatalf("unsupported import target %q", cfg.StoreBackend)
	}

	stats := importCodes(ctx, recs, dst)
	fmt.Printf("Import complete. imported=%d existing=%d skipped=%d failed=%d\n",
		stats.imported, stats.existing, stats.skipped, stats.failed)
}

type importStats struct {
	imported, existing, skipped, failed int
}

// importCodes appends recs to dst. Records without an event id get a
// synthetic one derived from their code, so running the import twice is safe.
func importCodes(ctx context.Context, recs []models.AccessCode, dst repository.AccessCodeRepository) importStats {
	var stats importStats
	for _, rec := range recs {
		if rec.Code == "" || rec.CourseID == "" {
			log.Printf("skipping record without code or course: %+v", rec)
			stats.skipped++
			continue
		}
		if rec.SourceEventID == "" {
			rec.SourceEventID = legacyEventPrefix + rec.Code
		}

		err := dst.Append(ctx, &rec)
		switch {
		case err == nil:
			stats.imported++
		case errors.Is(err, repository.ErrEventAlreadyProcessed), errors.Is(err, repository.ErrDuplicateCode):
			stats.existing++
		default:
			log.Printf("failed to import %s: %v", rec.Code, err)
			stats.failed++
		}
		if n := stats.imported; n > 0 && n%100 == 0 {
			log.Printf("imported %d access codes", n)
		}
	}
	return stats
}
