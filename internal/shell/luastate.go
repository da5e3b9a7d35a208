// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package shell

import (
	"context"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

type luaLibrary struct {
	name string
	fn   lua.LGFunction
}

// sandboxLibraries are the only libraries opened for scripts.
// os, io, debug and package stay closed.
var sandboxLibraries = []luaLibrary{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// unsafeBaseFunctions reach the filesystem or compile arbitrary code.
var unsafeBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load", "require"}

// newSandbox returns a Lua state with only the sandbox libraries loaded.
// ctx bounds every call made on the state.
func newSandbox(ctx context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range sandboxLibraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, oops.In("lua").With("library", lib.name).Wrapf(err, "opening library")
		}
	}
	for _, fn := range unsafeBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}
	L.SetContext(ctx)
	return L, nil
}
