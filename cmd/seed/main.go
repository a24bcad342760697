// seed writes the synthetic hospital dataset to HOSPITAL_DB_PATH.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashureev/sqlchat/internal/hospitaldb"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	defaultPath := os.Getenv("HOSPITAL_DB_PATH")
	if defaultPath == "" {
		defaultPath = "./data/hospital.db"
	}
	path := flag.String("db", defaultPath, "hospital database path")
	seed := flag.Int64("seed", hospitaldb.DefaultSeed, "random seed")
	flag.Parse()

	db, err := hospitaldb.Open(*path)
	if err != nil {
		slog.Error("Failed to open hospital database", "path", *path, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ds := hospitaldb.Generate(*seed, time.Now())
	if err := db.Seed(context.Background(), ds); err != nil {
		slog.Error("Failed to seed hospital database", "error", err)
		os.Exit(1)
	}

	slog.Info("Hospital database seeded",
		"path", *path,
		"hospitals", len(ds.Hospitals),
		"resource_rows", len(ds.Resources),
		"finance_rows", len(ds.Finance),
		"suppliers", len(ds.Suppliers),
		"inventory_items", len(ds.Inventory),
	)
}
