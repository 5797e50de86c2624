package script

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptchat/internal/domain"
)

func newTestLua(t *testing.T) *LuaInterpreter {
	t.Helper()
	in, err := NewLuaInterpreter(newTestHost(t, 0))
	require.NoError(t, err)
	t.Cleanup(func() { in.Close() })
	return in
}

func TestLuaEval(t *testing.T) {
	in := newTestLua(t)
	tests := []struct {
		name string
		code string
		want string
	}{
		{"expression", "1 + 1", "2"},
		{"return statement", "return 6 * 7", "42"},
		{"float", "1 / 4", "0.25"},
		{"string", `"a" .. "b"`, `"ab"`},
		{"bool", "1 < 2", "true"},
		{"nil", "nil", "null"},
		{"statements only", "local x = 1", "null"},
		{"array", "{1, 2, 3}", "[1,2,3]"},
		{"object", "{a = 1, b = {c = true}}", `{"a":1,"b":{"c":true}}`},
		{"empty table", "{}", "{}"},
		{"first of many", "return 1, 2", "1"},
		{"block", "local s = 0\nfor i = 1, 4 do s = s + i end\nreturn s", "10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := in.Eval(context.Background(), tt.code)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLuaHostFunctions(t *testing.T) {
	in := newTestLua(t)
	ctx := context.Background()

	out, err := in.Eval(ctx, `send_sms("555-0100", "hi")`)
	require.NoError(t, err)
	assert.Equal(t, `{"number":"555-0100","sms_msg":"hi","status":"ok"}`, out)

	out, err = in.Eval(ctx, `send_msg(12, "hello")`)
	require.NoError(t, err)
	assert.Equal(t, `{"message":"hello","room_id":12,"status":"ok"}`, out)

	out, err = in.Eval(ctx, `get_weather().weather`)
	require.NoError(t, err)
	assert.Equal(t, `"雨"`, out)

	out, err = in.Eval(ctx, `get_current_time()`)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-19T09:30:00Z", decode(t, out)["time"])

	out, err = in.Eval(ctx, `remember(1700000000, "call mom")`)
	require.NoError(t, err)
	assert.Equal(t, "ok", decode(t, out)["status"])

	out, err = in.Eval(ctx, `#list_reminders().reminders`)
	require.NoError(t, err)
	assert.Equal(t, "1", out)
}

func TestLuaGlobalsPersist(t *testing.T) {
	in := newTestLua(t)
	_, err := in.Eval(context.Background(), "counter = 41")
	require.NoError(t, err)
	out, err := in.Eval(context.Background(), "counter + 1")
	require.NoError(t, err)
	assert.Equal(t, "42", out)
}

func TestLuaErrors(t *testing.T) {
	in := newTestLua(t)
	tests := []struct {
		name string
		code string
	}{
		{"syntax", "1 +"},
		{"runtime", `error("boom")`},
		{"bad argument", `send_msg("room", "x")`},
		{"function value", "print"},
		{"sandboxed", `dofile("/etc/passwd")`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := in.Eval(context.Background(), tt.code)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrScriptEval)
		})
	}

	// State stays usable after failures.
	out, err := in.Eval(context.Background(), "2 + 2")
	require.NoError(t, err)
	assert.Equal(t, "4", out)
}

func TestLuaRuntimeErrorMessage(t *testing.T) {
	in := newTestLua(t)
	_, err := in.Eval(context.Background(), `error("boom")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestLuaCyclicTable(t *testing.T) {
	in := newTestLua(t)
	_, err := in.Eval(context.Background(), "local t = {}\nt.self = t\nreturn t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nesting")
}

func TestLuaTimeout(t *testing.T) {
	in := newTestLua(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := in.Eval(ctx, "while true do end")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, errors.Is(ctx.Err(), context.DeadlineExceeded))

	out, err := in.Eval(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "1", out)
}

func TestLuaMarker(t *testing.T) {
	in := newTestLua(t)
	assert.Equal(t, "lua", in.Name())
	assert.Equal(t, "--", in.CommentMarker())
}
