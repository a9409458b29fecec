package db

import "testing"

func TestMigrationsAreOrderedAndUnique(t *testing.T) {
	sorted := sortedMigrations()
	if len(sorted) != len(postgresMigrations) {
		t.Fatalf("Expected %d migrations, got %d", len(postgresMigrations), len(sorted))
	}

	seen := make(map[int]bool)
	for i, m := range sorted {
		if seen[m.Version] {
			t.Errorf("Duplicate migration version %d", m.Version)
		}
		seen[m.Version] = true

		if i > 0 && m.Version <= sorted[i-1].Version {
			t.Errorf("Expected ascending versions, got %d after %d", m.Version, sorted[i-1].Version)
		}
		if m.Name == "" || m.Up == "" || m.Down == "" {
			t.Errorf("Migration %d is missing name, up or down SQL", m.Version)
		}
	}

	if sorted[0].Version != 1 {
		t.Errorf("Expected first migration version 1, got %d", sorted[0].Version)
	}
}
