package asm

import (
	"strings"
)

// ---------------------------------------------------------------------------
// Canonical source formatting
// ---------------------------------------------------------------------------

// bodyIndent prefixes instructions and comments inside a method.
const bodyIndent = "    "

// Format returns source in canonical layout: class and method directives
// at column zero, labels on their own line at column zero, instructions
// indented, operands separated by one space, runs of blank lines
// collapsed, and a blank line before every class and method. Comments are
// kept. Source that does not assemble is returned with its errors.
func Format(source string) (string, error) {
	if _, err := Parse(source); err != nil {
		return "", err
	}

	f := &formatter{}
	for _, raw := range strings.Split(source, "\n") {
		f.line(strings.TrimRight(raw, "\r"))
	}
	return strings.TrimRight(f.buf.String(), "\n") + "\n", nil
}

type lineKind int

const (
	lineNone lineKind = iota
	lineBlank
	lineComment
	lineCode
)

type formatter struct {
	buf      strings.Builder
	inMethod bool
	last     lineKind
	pending  bool // a blank line is owed before the next output
}

func (f *formatter) emit(indent, text string, kind lineKind) {
	if f.pending && f.last != lineNone {
		f.buf.WriteByte('\n')
		f.last = lineBlank
	}
	f.pending = false
	f.buf.WriteString(indent)
	f.buf.WriteString(text)
	f.buf.WriteByte('\n')
	f.last = kind
}

func (f *formatter) indent() string {
	if f.inMethod {
		return bodyIndent
	}
	return ""
}

func (f *formatter) line(raw string) {
	code, comment := splitComment(raw)
	fields := splitFields(code)

	if len(fields) == 0 {
		if comment == "" {
			f.pending = true
			return
		}
		f.emit(f.indent(), comment, lineComment)
		return
	}

	for len(fields) > 0 && strings.HasSuffix(fields[0], ":") {
		label := fields[0]
		fields = fields[1:]
		if len(fields) == 0 && comment != "" {
			label += " " + comment
			comment = ""
		}
		f.emit("", label, lineCode)
	}
	if len(fields) == 0 {
		return
	}

	text := strings.Join(fields, " ")
	if comment != "" {
		text += " " + comment
	}
	switch fields[0] {
	case "class", "method":
		// Leading comments stay attached to the declaration they describe.
		if f.last == lineCode {
			f.pending = true
		}
		f.emit("", text, lineCode)
		f.inMethod = fields[0] == "method"
	case "end":
		f.emit("", text, lineCode)
		f.inMethod = false
	default:
		f.emit(f.indent(), text, lineCode)
	}
}

// splitComment separates a line into code and a trailing '#' comment,
// ignoring '#' inside string literals.
func splitComment(line string) (code, comment string) {
	inString := false
	for i := 0; i < len(line); i++ {
		switch c := line[i]; {
		case inString && c == '\\':
			i++
		case c == '"':
			inString = !inString
		case !inString && c == '#':
			return line[:i], strings.TrimSpace(line[i:])
		}
	}
	return line, ""
}

// splitFields splits code on whitespace outside string literals. A ':'
// outside a string ends a label field.
func splitFields(code string) []string {
	var (
		fields   []string
		cur      strings.Builder
		inString bool
	)
	flush := func() {
		if cur.Len() > 0 {
			fields = append(fields, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case inString:
			cur.WriteByte(c)
			if c == '\\' && i+1 < len(code) {
				i++
				cur.WriteByte(code[i])
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			cur.WriteByte(c)
			inString = true
		case c == ' ' || c == '\t':
			flush()
		case c == ':':
			cur.WriteByte(c)
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return fields
}
