package script

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"scriptchat/internal/domain"
)

var _ domain.Interpreter = (*LuaInterpreter)(nil)

// LuaInterpreter evaluates Lua chunks in one long-lived state, so globals set
// by one script are visible to the next.
type LuaInterpreter struct {
	mu   sync.Mutex
	L    *lua.LState
	host *Host
}

// NewLuaInterpreter creates a state with the safe standard libraries and the
// host functions installed.
func NewLuaInterpreter(host *Host) (*LuaInterpreter, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	libs := []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
	for _, lib := range libs {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("open lua lib %s: %w", lib.name, err)
		}
	}
	for _, name := range []string{"dofile", "loadfile", "require"} {
		L.SetGlobal(name, lua.LNil)
	}

	in := &LuaInterpreter{L: L, host: host}
	in.register()
	return in, nil
}

// Name implements domain.Interpreter.
func (in *LuaInterpreter) Name() string { return "lua" }

// CommentMarker implements domain.Interpreter.
func (in *LuaInterpreter) CommentMarker() string { return "--" }

// Close implements domain.Interpreter.
func (in *LuaInterpreter) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.L.Close()
	return nil
}

// Eval runs code and returns its first value as JSON. Code is tried as an
// expression before being run as a statement block, so both "1 + 1" and
// "return 1 + 1" yield 2.
func (in *LuaInterpreter) Eval(ctx context.Context, code string) (string, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	L := in.L
	fn, err := L.LoadString("return " + code)
	if err != nil {
		fn, err = L.LoadString(code)
		if err != nil {
			return "", fmt.Errorf("%w: %w", domain.ErrScriptEval, err)
		}
	}

	L.SetContext(ctx)
	defer L.RemoveContext()

	base := L.GetTop()
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		L.SetTop(base)
		return "", fmt.Errorf("%w: %w", domain.ErrScriptEval, err)
	}

	var result lua.LValue = lua.LNil
	if L.GetTop() > base {
		result = L.Get(base + 1)
	}
	L.SetTop(base)

	v, err := fromLua(result, 0)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrScriptEval, err)
	}
	return encodeJSON(v)
}

func (in *LuaInterpreter) register() {
	L := in.L
	h := in.host

	fns := map[string]lua.LGFunction{
		"send_sms": func(L *lua.LState) int {
			L.Push(toLua(L, h.SendSMS(L.Context(), L.CheckString(1), L.CheckString(2))))
			return 1
		},
		"send_msg": func(L *lua.LState) int {
			room := L.CheckInt64(1)
			if room < 0 {
				L.ArgError(1, "room id must not be negative")
			}
			L.Push(toLua(L, h.SendMsg(L.Context(), uint64(room), L.CheckString(2))))
			return 1
		},
		"remember": func(L *lua.LState) int {
			at := L.CheckInt64(1)
			if at < 0 {
				L.ArgError(1, "time must not be negative")
			}
			L.Push(toLua(L, h.Remember(L.Context(), uint64(at), L.CheckString(2))))
			return 1
		},
		"list_reminders": func(L *lua.LState) int {
			L.Push(toLua(L, h.ListReminders(L.Context())))
			return 1
		},
		"get_weather": func(L *lua.LState) int {
			L.Push(toLua(L, h.GetWeather(L.Context())))
			return 1
		},
		"get_current_time": func(L *lua.LState) int {
			L.Push(toLua(L, h.GetCurrentTime(L.Context())))
			return 1
		},
		"print": func(L *lua.LState) int {
			parts := make([]string, 0, L.GetTop())
			for i := 1; i <= L.GetTop(); i++ {
				parts = append(parts, L.ToStringMeta(L.Get(i)).String())
			}
			h.logger.Info("script print", "text", strings.Join(parts, "\t"))
			return 0
		},
	}
	for name, fn := range fns {
		L.SetGlobal(name, L.NewFunction(fn))
	}
}

// maxDepth bounds table nesting when converting to JSON; self-referencing
// tables would otherwise recurse forever.
const maxDepth = 32

func fromLua(v lua.LValue, depth int) (any, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("table nesting deeper than %d", maxDepth)
	}
	switch v := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(v), nil
	case lua.LString:
		return string(v), nil
	case lua.LNumber:
		f := float64(v)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, fmt.Errorf("cannot serialize number %v", f)
		}
		return f, nil
	case *lua.LTable:
		return fromLuaTable(v, depth)
	default:
		return nil, fmt.Errorf("cannot serialize %s", v.Type())
	}
}

// fromLuaTable maps a sequence to a JSON array and anything else to an
// object. An empty table becomes an empty object.
func fromLuaTable(t *lua.LTable, depth int) (any, error) {
	n := t.Len()
	count := 0
	t.ForEach(func(lua.LValue, lua.LValue) { count++ })

	if n > 0 && n == count {
		arr := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			item, err := fromLua(t.RawGetInt(i), depth+1)
			if err != nil {
				return nil, err
			}
			arr = append(arr, item)
		}
		return arr, nil
	}

	obj := make(map[string]any, count)
	var convErr error
	t.ForEach(func(k, val lua.LValue) {
		if convErr != nil {
			return
		}
		item, err := fromLua(val, depth+1)
		if err != nil {
			convErr = err
			return
		}
		obj[k.String()] = item
	})
	if convErr != nil {
		return nil, convErr
	}
	return obj, nil
}

func toLua(L *lua.LState, v any) lua.LValue {
	switch v := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case string:
		return lua.LString(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case uint64:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case Result:
		return toLua(L, map[string]any(v))
	case map[string]any:
		t := L.NewTable()
		for k, item := range v {
			t.RawSetString(k, toLua(L, item))
		}
		return t
	case []any:
		t := L.NewTable()
		for _, item := range v {
			t.Append(toLua(L, item))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(v))
	}
}
