package memory

import (
	"context"
	"fmt"
	"os"

	"virtual-lab-service/internal/domain"
	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Challenges []domain.Challenge `yaml:"challenges"`
}

// FileCatalogLoader reads challenges from a YAML file on every load, so edits
// are picked up once the cache expires.
type FileCatalogLoader struct {
	path string
}

func NewFileCatalogLoader(path string) *FileCatalogLoader {
	return &FileCatalogLoader{path: path}
}

func (l *FileCatalogLoader) LoadChallenges(context.Context) ([]domain.Challenge, error) {
	return ReadCatalogFile(l.path)
}

// ReadCatalogFile parses a catalog YAML file. Challenge and question ids must be unique.
func ReadCatalogFile(path string) ([]domain.Challenge, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	seen := make(map[string]bool, len(file.Challenges))
	for _, ch := range file.Challenges {
		if ch.ID == "" || seen[ch.ID] {
			return nil, fmt.Errorf("catalog %s: missing or duplicate challenge id %q", path, ch.ID)
		}
		seen[ch.ID] = true
		questions := make(map[string]bool, len(ch.Questions))
		for _, q := range ch.Questions {
			if q.ID == "" || questions[q.ID] {
				return nil, fmt.Errorf("catalog %s: challenge %s has missing or duplicate question id %q", path, ch.ID, q.ID)
			}
			questions[q.ID] = true
		}
	}
	return file.Challenges, nil
}
