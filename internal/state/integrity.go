package state

import (
	"fmt"
)

// CheckIntegrity runs SQLite's integrity check on the registry.
func (db *DB) CheckIntegrity() error {
	if db == nil || db.SQL == nil {
		return fmt.Errorf("database not open")
	}
	var result string
	if err := db.SQL.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed to run: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database integrity check failed: %s", result)
	}
	return nil
}

// Stats summarizes the registry.
type Stats struct {
	DatabaseSize int64 // bytes, from page_count * page_size
	Models       int
	TotalBytes   int64 // sum of recorded artifact sizes
}

func (db *DB) GetStats() (Stats, error) {
	if db == nil || db.SQL == nil {
		return Stats{}, fmt.Errorf("database not open")
	}
	var s Stats
	var pageCount, pageSize int64
	if err := db.SQL.QueryRow("PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := db.SQL.QueryRow("PRAGMA page_size").Scan(&pageSize); err == nil {
			s.DatabaseSize = pageCount * pageSize
		}
	}
	if err := db.SQL.QueryRow("SELECT COUNT(*), COALESCE(SUM(size), 0) FROM models").Scan(&s.Models, &s.TotalBytes); err != nil {
		return Stats{}, fmt.Errorf("failed to count models: %w", err)
	}
	return s, nil
}
