package asm

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: line-oriented tokenizer for .jasm source
// ---------------------------------------------------------------------------
//
// A word runs until whitespace, '#', '"' or ':'. A word directly followed
// by ':' is a label definition. '#' starts a comment that runs to the end
// of the line. Newlines are significant.

// Lexer tokenizes assembler source.
type Lexer struct {
	input   string
	pos     int  // offset of ch
	readPos int  // offset after ch
	ch      rune // current character, 0 at EOF
	line    int
	col     int // column of ch
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 0
	}
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = len(l.input)
		l.col++
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
	l.col++
}

func (l *Lexer) position() Position {
	return Position{Offset: l.pos, Line: l.line, Column: l.col}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipSpaceAndComments()
	pos := l.position()

	switch {
	case l.ch == 0:
		return Token{Type: TokenEOF, Pos: pos}
	case l.ch == '\n':
		l.readChar()
		return Token{Type: TokenNewline, Literal: "\n", Pos: pos}
	case l.ch == '"':
		return l.readString(pos)
	case l.ch == ':':
		l.readChar()
		return Token{Type: TokenError, Literal: "unexpected ':'", Pos: pos}
	}
	return l.readWord(pos)
}

func (l *Lexer) skipSpaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\r' {
			l.readChar()
		}
		if l.ch != '#' {
			return
		}
		for l.ch != '\n' && l.ch != 0 {
			l.readChar()
		}
	}
}

func isWordChar(r rune) bool {
	switch r {
	case 0, ' ', '\t', '\r', '\n', '#', '"', ':':
		return false
	}
	return true
}

func (l *Lexer) readWord(pos Position) Token {
	start := l.pos
	for isWordChar(l.ch) {
		l.readChar()
	}
	word := l.input[start:l.pos]
	if l.ch == ':' {
		l.readChar()
		return Token{Type: TokenLabel, Literal: word, Pos: pos}
	}
	if isInteger(word) {
		return Token{Type: TokenInteger, Literal: word, Pos: pos}
	}
	return Token{Type: TokenWord, Literal: word, Pos: pos}
}

func isInteger(s string) bool {
	if strings.HasPrefix(s, "-") {
		s = s[1:]
	}
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// readString reads a double-quoted literal with \n, \t, \", \\ escapes.
func (l *Lexer) readString(pos Position) Token {
	l.readChar() // opening "
	var sb strings.Builder
	for {
		switch l.ch {
		case 0, '\n':
			return Token{Type: TokenError, Literal: "unterminated string", Pos: pos}
		case '"':
			l.readChar()
			return Token{Type: TokenString, Literal: sb.String(), Pos: pos}
		case '\\':
			l.readChar()
			switch l.ch {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '"', '\\':
				sb.WriteRune(l.ch)
			default:
				return Token{Type: TokenError, Literal: fmt.Sprintf("unknown escape \\%c", l.ch), Pos: pos}
			}
		default:
			sb.WriteRune(l.ch)
		}
		l.readChar()
	}
}

// Tokenize returns all tokens from the input, ending with EOF or the
// first error.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			return tokens
		}
	}
}
