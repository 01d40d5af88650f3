package main

import (
	"log"

	"github.com/secureflow/backend/internal/config"
	"github.com/secureflow/backend/internal/db"
	"github.com/secureflow/backend/internal/logger"
	"github.com/secureflow/backend/internal/store"
	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logger.Initialize(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File})

	if cfg.Store.Driver != config.DriverPostgres {
		log.Printf("Store driver is %q; only postgres needs migrations", cfg.Store.Driver)
		return
	}

	// Connect to database
	conn, err := db.Connect(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	st := store.NewGormStore(conn)
	defer st.Close()

	// Run migrations
	log.Println("Running database migrations...")
	if err := st.AutoMigrate(); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	log.Println("✅ Database migrations completed successfully!")
}
