// Package prompt loads the persisted system prompt that seeds the transcript.
//
// The file maps a content key to an ordered list of role/message records:
//
//	content:
//	  - role: system
//	    message: You answer with Lua code only.
//	  - role: user
//	    message: what time is it?
//	  - role: assistant
//	    message: return get_current_time()
//
// JSON with the same shape is accepted.
package prompt

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"scriptchat/internal/domain"
)

type file struct {
	Content []record `yaml:"content"`
}

type record struct {
	Role    string `yaml:"role"`
	Message string `yaml:"message"`
}

// Load reads the prompt file at path. An empty path yields no turns.
func Load(path string) ([]domain.Turn, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt: %w: %w", domain.ErrConfigLoad, err)
	}
	turns, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("prompt %s: %w", path, err)
	}
	return turns, nil
}

// Parse decodes prompt file contents.
func Parse(data []byte) ([]domain.Turn, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse: %w: %w", domain.ErrConfigLoad, err)
	}
	turns := make([]domain.Turn, 0, len(f.Content))
	for i, r := range f.Content {
		role, err := domain.ParseRole(strings.ToLower(strings.TrimSpace(r.Role)))
		if err != nil {
			return nil, fmt.Errorf("content[%d]: %w", i, err)
		}
		turns = append(turns, domain.Turn{Role: role, Text: r.Message})
	}
	return turns, nil
}
