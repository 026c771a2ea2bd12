package asm

import "github.com/chazu/javelin/vm"

// MainDescriptor is the descriptor of a program entry method.
const MainDescriptor = "([Ljava/lang/String;)V"

var directives = []string{
	"catch", "class", "end", "field", "line",
	"locals", "method", "native", "source", "super",
}

// Directives returns the assembler directives, sorted.
func Directives() []string {
	return append([]string(nil), directives...)
}

// IsDirective reports whether word is an assembler directive.
func IsDirective(word string) bool {
	for _, d := range directives {
		if d == word {
			return true
		}
	}
	return false
}

// MainClass returns the first class declaring a static main(String[]),
// or "" if there is none.
func MainClass(classes []*vm.Class) string {
	for _, c := range classes {
		if m := c.DeclaredMethod("main", MainDescriptor); m != nil && m.Static {
			return c.Name
		}
	}
	return ""
}
