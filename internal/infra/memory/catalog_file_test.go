package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileCatalogLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := `
challenges:
  - id: "1"
    title: Introduction to Algorithms
    difficulty: Easy
    total_points: 50
    questions:
      - id: q1
        prompt: What is an algorithm?
        points: 50
        options:
          - {id: a, text: A language}
          - {id: b, text: A procedure, correct: true}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	challenges, err := NewFileCatalogLoader(path).LoadChallenges(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(challenges) != 1 || challenges[0].MaxPoints() != 50 || !challenges[0].Questions[0].Options[1].Correct {
		t.Fatalf("unexpected catalog %+v", challenges)
	}
}

func TestReadCatalogFileRejectsDuplicateIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	content := "challenges:\n  - id: \"1\"\n  - id: \"1\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	if _, err := ReadCatalogFile(path); err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func TestDefaultCatalogParses(t *testing.T) {
	challenges, err := ReadCatalogFile(filepath.Join("..", "..", "..", "config", "catalog.yaml"))
	if err != nil {
		t.Fatalf("read default catalog: %v", err)
	}
	if len(challenges) == 0 {
		t.Fatalf("expected challenges in default catalog")
	}
	for _, ch := range challenges {
		for _, q := range ch.Questions {
			correct := 0
			for _, o := range q.Options {
				if o.Correct {
					correct++
				}
			}
			if correct != 1 {
				t.Fatalf("challenge %s question %s has %d correct options", ch.ID, q.ID, correct)
			}
		}
	}
}
