package workflow

import (
	"fmt"
	"os"
)

// LoadGraph loads an API-format workflow from a JSON file.
func LoadGraph(path string) (Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	g, err := ParseGraph(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse workflow JSON %s: %w", path, err)
	}

	if len(g) == 0 {
		return nil, fmt.Errorf("workflow %s has no nodes", path)
	}

	return g, nil
}
