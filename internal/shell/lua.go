// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package shell

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// DefaultScriptTimeout bounds a single Lua command.
const DefaultScriptTimeout = 5 * time.Second

// Script is a compiled Lua file that defines commands in a global
// "commands" table:
//
//	commands.greet = {
//	  help = "say hello",
//	  usage = "greet NAME",
//	  run = function(args) return "hello " .. args[1] end,
//	}
//
// A run function may return a string to print. While a command runs the
// script also sees a "session" table with getprop, write, size, term, user
// and exit.
type Script struct {
	path    string
	proto   *lua.FunctionProto
	timeout time.Duration
}

// LoadScript reads and compiles the script at path.
func LoadScript(path string) (*Script, error) {
	code, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, oops.In("lua").With("path", path).Hint("failed to read script").Wrap(err)
	}
	return CompileScript(path, code)
}

// CompileScript compiles code; name is used in error messages.
func CompileScript(name string, code []byte) (*Script, error) {
	chunk, err := parse.Parse(bytes.NewReader(code), name)
	if err != nil {
		return nil, oops.In("lua").With("path", name).Hint("syntax error").Wrap(err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, oops.In("lua").With("path", name).Hint("compile error").Wrap(err)
	}
	return &Script{path: name, proto: proto, timeout: DefaultScriptTimeout}, nil
}

// SetTimeout changes the per-command time limit.
func (s *Script) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// Register runs the script once to discover its commands and adds them to r.
func (s *Script) Register(ctx context.Context, r *Registry) error {
	L, err := newSandbox(ctx)
	if err != nil {
		return err
	}
	defer L.Close()

	table, err := s.load(L)
	if err != nil {
		return err
	}

	var cmds []Command
	var bad error
	table.ForEach(func(k, v lua.LValue) {
		if bad != nil {
			return
		}
		name, ok := k.(lua.LString)
		if !ok {
			bad = oops.In("lua").With("path", s.path).Errorf("commands table has non-string key %s", k.String())
			return
		}
		def, ok := v.(*lua.LTable)
		if !ok || def.RawGetString("run").Type() != lua.LTFunction {
			bad = oops.In("lua").With("path", s.path).With("command", string(name)).Errorf("command %s needs a run function", name)
			return
		}
		cmds = append(cmds, Command{
			Name:    string(name),
			Help:    optString(def, "help"),
			Usage:   optString(def, "usage"),
			Source:  s.path,
			Handler: s.handler(string(name)),
		})
	})
	if bad != nil {
		return bad
	}

	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	for _, c := range cmds {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// load executes the compiled chunk in L and returns its commands table.
func (s *Script) load(L *lua.LState) (*lua.LTable, error) {
	L.Push(L.NewFunctionFromProto(s.proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		return nil, oops.In("lua").With("path", s.path).Hint("script failed to load").Wrap(err)
	}
	table, ok := L.GetGlobal("commands").(*lua.LTable)
	if !ok {
		return nil, oops.In("lua").With("path", s.path).Errorf("script does not define a commands table")
	}
	return table, nil
}

func optString(t *lua.LTable, field string) string {
	if v, ok := t.RawGetString(field).(lua.LString); ok {
		return string(v)
	}
	return ""
}

// handler runs command name in a fresh state per invocation.
func (s *Script) handler(name string) Handler {
	return func(ctx context.Context, inv *Invocation) error {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		L, err := newSandbox(ctx)
		if err != nil {
			return err
		}
		defer L.Close()

		exit := false
		installSessionAPI(L, inv, &exit)

		table, err := s.load(L)
		if err != nil {
			return err
		}
		def, ok := table.RawGetString(name).(*lua.LTable)
		if !ok {
			return oops.In("lua").With("command", name).Errorf("command %s disappeared from script", name)
		}

		args := L.NewTable()
		for _, a := range inv.Args {
			args.Append(lua.LString(a))
		}
		if err := L.CallByParam(lua.P{
			Fn:      def.RawGetString("run"),
			NRet:    1,
			Protect: true,
		}, args); err != nil {
			return oops.In("lua").With("command", name).Wrap(err)
		}
		ret := L.Get(-1)
		L.Pop(1)

		if out, ok := ret.(lua.LString); ok && out != "" {
			text := string(out)
			if !strings.HasSuffix(text, "\n") {
				text += "\n"
			}
			if _, err := io.WriteString(inv.Stdout, text); err != nil {
				return err
			}
		}
		if exit {
			return errExit
		}
		return nil
	}
}

// installSessionAPI exposes the session to the script and sends print to
// the session's output.
func installSessionAPI(L *lua.LState, inv *Invocation, exit *bool) {
	sc := inv.Session
	api := L.NewTable()
	L.SetFuncs(api, map[string]lua.LGFunction{
		"getprop": func(L *lua.LState) int {
			v, ok := sc.Property(L.CheckString(1))
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LString(v))
			return 1
		},
		"write": func(L *lua.LState) int {
			if _, err := io.WriteString(inv.Stdout, L.CheckString(1)); err != nil {
				L.RaiseError("write: %v", err)
			}
			return 0
		},
		"size": func(L *lua.LState) int {
			size := sc.Terminal().Size()
			L.Push(lua.LNumber(size.Cols))
			L.Push(lua.LNumber(size.Rows))
			return 2
		},
		"term": func(L *lua.LState) int {
			L.Push(lua.LString(sc.Terminal().Type()))
			return 1
		},
		"user": func(L *lua.LState) int {
			L.Push(lua.LString(sc.User()))
			return 1
		},
		"exit": func(*lua.LState) int {
			*exit = true
			return 0
		},
	})
	L.SetGlobal("session", api)

	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		fmt.Fprintln(inv.Stdout, strings.Join(parts, "\t"))
		return 0
	}))
}
