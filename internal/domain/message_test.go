package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenConstructors(t *testing.T) {
	assert.True(t, Start().IsStart())
	assert.Empty(t, Start().Text)

	c := Chunk("he")
	assert.True(t, c.IsChunk())
	assert.Equal(t, "he", c.Text)

	e := End("hello")
	assert.True(t, e.IsEnd())
	assert.False(t, e.IsChunk())
	assert.Equal(t, "hello", e.Text)
}

func TestMessageValueSemantics(t *testing.T) {
	orig := NewMessage(RoleUser, End("hello"))
	cp := orig
	cp.Token.Text = "changed"
	assert.Equal(t, "hello", orig.Token.Text)
}

func TestMessageString(t *testing.T) {
	assert.Equal(t, `user:end("hello")`, NewMessage(RoleUser, End("hello")).String())
	assert.Equal(t, "assistant:start", NewMessage(RoleAssistant, Start()).String())
}

func TestParseRole(t *testing.T) {
	for _, s := range []string{"user", "assistant", "tool", "system"} {
		r, err := ParseRole(s)
		require.NoError(t, err)
		assert.Equal(t, Role(s), r)
	}
	_, err := ParseRole("narrator")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
