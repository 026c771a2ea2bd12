package asm

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the .jasm lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenError
	TokenNewline

	TokenWord    // directive, mnemonic, class name, descriptor, label reference
	TokenInteger // 42, -7
	TokenString  // "hello"
	TokenLabel   // loop:
)

var tokenNames = map[TokenType]string{
	TokenEOF:     "EOF",
	TokenError:   "ERROR",
	TokenNewline: "NEWLINE",
	TokenWord:    "WORD",
	TokenInteger: "INTEGER",
	TokenString:  "STRING",
	TokenLabel:   "LABEL",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// Position is a location in source text. Line and Column are 1-based.
type Position struct {
	Offset int
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string // raw text; unquoted for strings, without ':' for labels
	Pos     Position
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return "EOF"
	case TokenNewline:
		return "NEWLINE"
	case TokenError:
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// End returns the position just past the token on its line.
func (t Token) End() Position {
	n := len(t.Literal)
	switch t.Type {
	case TokenString:
		n = len(fmt.Sprintf("%q", t.Literal))
	case TokenLabel:
		n++
	}
	return Position{Offset: t.Pos.Offset + n, Line: t.Pos.Line, Column: t.Pos.Column + n}
}
