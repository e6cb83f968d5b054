package main

import (
	"context"
	"flag"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/semla/internal/app"
	"github.com/shrimpsizemoose/semla/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "config.toml", "Path to config file")
		seedPath   = flag.String("seed", "", "Course structure to load after migrating")
	)
	flag.Parse()

	config, err := app.LoadConfig(*configPath)
	if err != nil {
		logger.Error.Fatalf("Failed to load config: %v", err)
	}

	// migrations are applied explicitly below
	st, err := app.NewStore(store.DBConfig{DSN: config.Database.DSN})
	if err != nil {
		logger.Error.Fatalf("Failed to open database: %v", err)
	}
	defer st.Close()

	if err := st.ApplyMigrations(config.Database.MigrationsDir); err != nil {
		logger.Error.Fatalf("Failed to apply migrations: %v", err)
	}
	logger.Info.Printf("Applied migrations from %s", config.Database.MigrationsDir)

	if *seedPath == "" {
		return
	}
	course, err := app.LoadCourse(*seedPath)
	if err != nil {
		logger.Error.Fatalf("Failed to load course: %v", err)
	}
	exercises, err := app.SeedCourse(context.Background(), st, course)
	if err != nil {
		logger.Error.Fatalf("Failed to seed course: %v", err)
	}
	for name, id := range exercises {
		logger.Info.Printf("  exercise %s: %d", name, id)
	}
}
