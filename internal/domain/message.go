package domain

import "fmt"

// Role identifies the author of a message. It is used for routing and
// rendering only.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ParseRole converts a persisted role name into a Role.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleUser, RoleAssistant, RoleTool, RoleSystem:
		return r, nil
	}
	return "", fmt.Errorf("role %q: %w", s, ErrInvalidInput)
}

// TokenKind tags the variant carried by a Token.
type TokenKind uint8

// Token kinds. A turn is one Start, any number of Chunk and exactly one End.
const (
	TokenStart TokenKind = iota + 1
	TokenChunk
	TokenEnd
)

func (k TokenKind) String() string {
	switch k {
	case TokenStart:
		return "start"
	case TokenChunk:
		return "chunk"
	case TokenEnd:
		return "end"
	}
	return "unknown"
}

// Token is one increment of a streamed turn. For End, Text is the full text
// of the turn, not a delta.
type Token struct {
	Kind TokenKind
	Text string
}

// Start opens a turn.
func Start() Token { return Token{Kind: TokenStart} }

// Chunk carries an incremental fragment.
func Chunk(text string) Token { return Token{Kind: TokenChunk, Text: text} }

// End closes a turn with its complete text.
func End(text string) Token { return Token{Kind: TokenEnd, Text: text} }

func (t Token) IsStart() bool { return t.Kind == TokenStart }
func (t Token) IsChunk() bool { return t.Kind == TokenChunk }
func (t Token) IsEnd() bool   { return t.Kind == TokenEnd }

func (t Token) String() string {
	if t.Kind == TokenStart {
		return t.Kind.String()
	}
	return fmt.Sprintf("%s(%q)", t.Kind, t.Text)
}

// Message is the unit carried by the bus. It is a value type and is copied on
// fan-out.
type Message struct {
	Role  Role
	Token Token
}

// NewMessage builds a message.
func NewMessage(role Role, tok Token) Message {
	return Message{Role: role, Token: tok}
}

func (m Message) String() string {
	return fmt.Sprintf("%s:%s", m.Role, m.Token)
}

// Turn is one transcript entry handed to an inference engine.
type Turn struct {
	Role Role   `json:"role" yaml:"role"`
	Text string `json:"content" yaml:"message"`
}
