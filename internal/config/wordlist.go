package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	kitconfig "github.com/lessucettes/researchlog/pkg/researchlog-kit/config"
)

type wordlistEntry struct {
	Match string `json:"match"`
}

// LoadWordlist reads a JSON list of {"match": "<pattern>"} objects and
// returns them as a single moderation rule covering every context.
func LoadWordlist(path string) (kitconfig.ModerationRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return kitconfig.ModerationRule{}, fmt.Errorf("failed to read wordlist %s: %w", path, err)
	}

	var entries []wordlistEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return kitconfig.ModerationRule{}, fmt.Errorf("failed to parse wordlist %s: %w", path, err)
	}

	patterns := make([]string, 0, len(entries))
	for i, e := range entries {
		m := strings.TrimSpace(e.Match)
		if m == "" {
			return kitconfig.ModerationRule{}, fmt.Errorf("wordlist %s: entry %d has an empty match", path, i)
		}
		patterns = append(patterns, m)
	}

	return kitconfig.ModerationRule{
		Description: "wordlist",
		Patterns:    patterns,
	}, nil
}
