package reconcile

import (
	"context"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/Iron-Ham/convoy/internal/errors"
	"github.com/Iron-Ham/convoy/internal/host"
	"github.com/Iron-Ham/convoy/internal/logging"
)

// Sufficiency decides whether the current partition is good enough to
// stop deploying.
type Sufficiency func(deployed, undeployed host.Set) bool

// AllDeployed is the default Sufficiency: nothing is left undeployed.
func AllDeployed(_, undeployed host.Set) bool {
	return undeployed.Empty()
}

// Script is a compiled Lua sufficiency expression. It sees the globals
// deployed, undeployed and total (counts) and deployed_hosts and
// undeployed_hosts (arrays of addresses).
type Script struct {
	source string
	proto  *lua.FunctionProto
}

// CompileScript compiles expr. A bare expression such as
// "deployed >= 0.9 * total" is accepted as well as a chunk with explicit
// return statements.
func CompileScript(expr string) (*Script, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, errors.NewValidationError("empty sufficiency expression").WithField("enough")
	}
	proto, err := compile("return (" + expr + ")")
	if err != nil {
		var chunkErr error
		if proto, chunkErr = compile(expr); chunkErr != nil {
			return nil, errors.NewValidationError("invalid sufficiency expression").WithField("enough").WithValue(expr).WithCause(chunkErr)
		}
	}
	return &Script{source: expr, proto: proto}, nil
}

func compile(source string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(source), "enough")
	if err != nil {
		return nil, err
	}
	return lua.Compile(chunk, "enough")
}

// String returns the source expression.
func (s *Script) String() string { return s.source }

// Eval runs the script against a partition. The result is Lua truthiness.
func (s *Script) Eval(ctx context.Context, deployed, undeployed host.Set) (bool, error) {
	L := newState()
	defer L.Close()
	if ctx != nil {
		L.SetContext(ctx)
	}

	L.SetGlobal("deployed", lua.LNumber(deployed.Len()))
	L.SetGlobal("undeployed", lua.LNumber(undeployed.Len()))
	L.SetGlobal("total", lua.LNumber(deployed.Len()+undeployed.Len()))
	L.SetGlobal("deployed_hosts", hostTable(L, deployed))
	L.SetGlobal("undeployed_hosts", hostTable(L, undeployed))

	L.Push(L.NewFunctionFromProto(s.proto))
	if err := L.PCall(0, 1, nil); err != nil {
		return false, errors.Wrap(err, "evaluating sufficiency expression")
	}
	ret := L.Get(-1)
	L.Pop(1)
	return lua.LVAsBool(ret), nil
}

// Sufficiency adapts the script. Evaluation errors are logged and count as
// not sufficient.
func (s *Script) Sufficiency(logger *logging.Logger) Sufficiency {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return func(deployed, undeployed host.Set) bool {
		ok, err := s.Eval(context.Background(), deployed, undeployed)
		if err != nil {
			logger.Warn("sufficiency expression failed", "expression", s.source, "error", err)
			return false
		}
		return ok
	}
}

// newState opens the base, table, string and math libraries only.
func newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

func hostTable(L *lua.LState, s host.Set) *lua.LTable {
	t := L.CreateTable(s.Len(), 0)
	for _, a := range s.Slice() {
		t.Append(lua.LString(a))
	}
	return t
}
