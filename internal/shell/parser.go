// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package shell

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/samber/oops"
)

// Error codes raised by the shell.
const (
	CodeEmptyInput  = "EMPTY_INPUT"
	CodeSyntax      = "SYNTAX_ERROR"
	CodeInvalidName = "INVALID_COMMAND_NAME"
)

// lineLexer splits a command line into bare words and double-quoted strings.
// Inside quotes, backslash escapes follow Go string literal rules.
var lineLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"(\\.|[^"\\])*"`},
	{Name: "Word", Pattern: `[^\s"]+`},
	{Name: "whitespace", Pattern: `\s+`},
})

// commandLine is the grammar root: zero or more words.
type commandLine struct {
	Words []string `parser:"(@String | @Word)*"`
}

var lineParser = participle.MustBuild[commandLine](
	participle.Lexer(lineLexer),
	participle.Unquote("String"),
)

// Line is a parsed command line.
type Line struct {
	Name string
	Args []string
	Raw  string
}

// Parse splits input into a command name and its arguments.
func Parse(input string) (*Line, error) {
	if strings.TrimSpace(input) == "" {
		return nil, oops.Code(CodeEmptyInput).Errorf("no command provided")
	}
	parsed, err := lineParser.ParseString("", input)
	if err != nil {
		return nil, oops.Code(CodeSyntax).With("input", input).Wrap(err)
	}
	if len(parsed.Words) == 0 {
		return nil, oops.Code(CodeEmptyInput).Errorf("no command provided")
	}
	return &Line{Name: parsed.Words[0], Args: parsed.Words[1:], Raw: input}, nil
}

// String renders the line back with arguments quoted where needed.
func (l *Line) String() string {
	parts := make([]string, 0, len(l.Args)+1)
	parts = append(parts, l.Name)
	for _, a := range l.Args {
		if a == "" || strings.ContainsAny(a, " \t\"\\") {
			a = fmt.Sprintf("%q", a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}
