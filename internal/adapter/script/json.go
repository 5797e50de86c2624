package script

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// encodeJSON renders a script result without HTML escaping, so text such as
// "<b>" reaches the model unchanged.
func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
