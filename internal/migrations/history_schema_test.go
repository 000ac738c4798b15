package migrations

import (
	"strings"
	"testing"
)

func TestHistoryMigrationContainsRequiredTablesAndIndexes(t *testing.T) {
	body, err := embeddedFS.ReadFile("sql/000001_invocation_history.up.sql")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	sql := string(body)
	requiredSnippets := []string{
		"CREATE TABLE invocation (",
		"CREATE TABLE invocation_turn (",
		"status IN ('answered', 'exhausted', 'failed')",
		"ON DELETE CASCADE",
		"PRIMARY KEY (invocation_id, seq)",
		"CREATE INDEX idx_invocation_finished_at_desc",
	}
	for _, snippet := range requiredSnippets {
		if !strings.Contains(sql, snippet) {
			t.Fatalf("migration missing required snippet: %s", snippet)
		}
	}
}

func TestEmbeddedMigrationsLoad(t *testing.T) {
	items, err := loadMigrations(embeddedFS)
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) != 1 || items[0].Version != 1 {
		t.Fatalf("items = %+v", items)
	}
	if !strings.Contains(items[0].DownSQL, "DROP TABLE IF EXISTS invocation_turn") {
		t.Fatalf("down SQL = %q", items[0].DownSQL)
	}
}
