package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/secureflow/backend/internal/config"
	"github.com/secureflow/backend/internal/db"
	"github.com/secureflow/backend/internal/logger"
	"github.com/secureflow/backend/internal/services"
	"github.com/spf13/pflag"
)

// SeedData represents the structure of the KB examples file
type SeedData struct {
	Items []services.AddKBItemRequest `json:"items"`
}

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	file := pflag.StringP("file", "f", "data/kb-examples.json", "KB examples to load")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logger.Initialize(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File})

	// Open the configured store; postgres is migrated on open
	st, err := db.OpenStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	log.Println("Seeding knowledge base with sample data...")
	added, err := seedKB(context.Background(), services.NewKBService(st, nil), *file)
	if err != nil {
		log.Fatalf("Error seeding KB: %v", err)
	}

	log.Printf("✅ Knowledge base seeding completed: %d items added", added)
}

func seedKB(ctx context.Context, kb *services.KBService, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read KB examples file: %w", err)
	}

	var data SeedData
	if err := json.Unmarshal(raw, &data); err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	existing, err := kb.CountKB(ctx)
	if err != nil {
		return 0, err
	}
	if existing > 0 {
		log.Printf("⚠️  Knowledge base already has %d items, skipping", existing)
		return 0, nil
	}

	added := 0
	for i, req := range data.Items {
		item, err := kb.AddKBItem(ctx, req)
		if err != nil {
			log.Printf("Error adding item %d: %v", i, err)
			continue
		}
		added++
		log.Printf("✅ Added KB item %d (%s, %s)", item.ID, item.Risk, item.IncidentCategory)
	}
	return added, nil
}
