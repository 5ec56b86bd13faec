package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/haasonsaas/operon/pkg/models"
)

const fixtureFileName = "fixture.json"

func loadFixture(dir string) (models.Fixture, error) {
	path := filepath.Join(dir, fixtureFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Fixture{}, fmt.Errorf("agent: reading fixture %s: %w", path, err)
	}
	var fixture models.Fixture
	if err := json.Unmarshal(data, &fixture); err != nil {
		return models.Fixture{}, fmt.Errorf("agent: parsing fixture %s: %w", path, err)
	}
	return fixture, nil
}

func writeFixture(dir string, fixture models.Fixture) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("agent: creating fixture dir %s: %w", dir, err)
	}
	fixture.RecordedAt = time.Now().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(fixture, "", "  ")
	if err != nil {
		return fmt.Errorf("agent: encoding fixture: %w", err)
	}
	path := filepath.Join(dir, fixtureFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("agent: writing fixture %s: %w", path, err)
	}
	return nil
}
