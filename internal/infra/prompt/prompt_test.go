package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptchat/internal/domain"
)

func TestParseYAML(t *testing.T) {
	data := []byte(`
content:
  - role: system
    message: |
      Reply with Lua code. Prefix prose with --.
  - role: User
    message: what's the weather?
  - role: assistant
    message: return get_weather()
`)
	turns, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, domain.RoleSystem, turns[0].Role)
	assert.Equal(t, "Reply with Lua code. Prefix prose with --.\n", turns[0].Text)
	assert.Equal(t, domain.Turn{Role: domain.RoleUser, Text: "what's the weather?"}, turns[1])
	assert.Equal(t, domain.RoleAssistant, turns[2].Role)
}

func TestParseJSON(t *testing.T) {
	data := []byte(`{"content":[{"role":"system","message":"be brief"},{"role":"tool","message":"{\"status\":\"ok\"}"}]}`)
	turns, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, []domain.Turn{
		{Role: domain.RoleSystem, Text: "be brief"},
		{Role: domain.RoleTool, Text: `{"status":"ok"}`},
	}, turns)
}

func TestParseUnknownRole(t *testing.T) {
	_, err := Parse([]byte("content:\n  - role: narrator\n    message: hi\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "content[0]")
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse([]byte("content: [unterminated"))
	assert.ErrorIs(t, err, domain.ErrConfigLoad)
}

func TestParseEmpty(t *testing.T) {
	turns, err := Parse([]byte("content: []\n"))
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.yaml")
	require.NoError(t, os.WriteFile(path, []byte("content:\n  - role: system\n    message: hi\n"), 0600))

	turns, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []domain.Turn{{Role: domain.RoleSystem, Text: "hi"}}, turns)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, domain.ErrConfigLoad)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadEmptyPath(t *testing.T) {
	turns, err := Load("")
	require.NoError(t, err)
	assert.Nil(t, turns)
}
