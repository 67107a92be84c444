package main

import (
	"fmt"
	"log"

	"github.com/sitewatch-data/ppe.report/internal/storage/sqlite"
)

// openDatabase opens the sqlite store and applies pending migrations.
func openDatabase(path string) (*sqlite.DB, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if version, dirty, err := db.MigrateVersion(); err == nil {
		log.Printf("database schema at version %d (dirty=%v)", version, dirty)
	}
	return db, nil
}
