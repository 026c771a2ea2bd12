package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/javelin/asm"
	"github.com/chazu/javelin/manifest"
	"github.com/chazu/javelin/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "javelin-lsp"

var lspLog = commonlog.GetLogger("javelin.lsp")

// LspServer provides editor features for .jasm files. Each request
// assembles the document into a fresh VM on the worker goroutine, so the
// runtime classes and the document's own classes are both visible.
type LspServer struct {
	worker *VMWorker

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server. opts configure the VMs documents are
// checked against.
func NewLSP(opts ...vm.Option) *LspServer {
	s := &LspServer{
		worker:  NewVMWorker(opts...),
		docs:    make(map[string]string),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	lspLog.Info("javelin LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) setDoc(uri protocol.DocumentUri, text string) {
	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()
}

func (s *LspServer) doc(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	s.setDoc(uri, params.TextDocument.Text)
	s.publishDiagnostics(ctx, uri, params.TextDocument.Text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.setDoc(uri, whole.Text)
			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.doc(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	prefix := extractPrefix(text, params.Position)

	result, err := s.worker.Do(func(v *vm.VM) interface{} {
		return complete(v, text, prefix)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.doc(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}

	result, err := s.worker.Do(func(v *vm.VM) interface{} {
		return hover(v, text, word)
	})
	if err != nil || result == nil {
		return nil, nil
	}
	return result.(*protocol.Hover), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.doc(uri)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	if locs := definition(uri, text, params.Position, word); len(locs) > 0 {
		return locs, nil
	}
	return nil, nil
}

// --- Document analysis (called on the worker goroutine) ---

// loadDocument assembles text and defines whatever classes it yields in v.
// Syntax errors are returned alongside the classes that did assemble.
func loadDocument(v *vm.VM, text string) ([]*vm.Class, asm.ErrorList) {
	classes, err := asm.NewParser("", text).Parse()
	var list asm.ErrorList
	errors.As(err, &list)
	var named []*vm.Class
	for _, c := range classes {
		if c.Name != "" {
			named = append(named, c)
		}
	}
	if err := v.Define(named...); err != nil {
		lspLog.Debugf("define: %v", err)
	}
	return named, list
}

// diagnose reports syntax errors, classes in runtime packages, and link
// failures.
func diagnose(v *vm.VM, text string) []protocol.Diagnostic {
	classes, syntax := loadDocument(v, text)
	diagnostics := []protocol.Diagnostic{}

	for _, e := range syntax {
		diagnostics = append(diagnostics, newDiagnostic(
			protocol.DiagnosticSeverityError, e.Pos.Line-1, e.Pos.Column-1, e.Msg))
	}

	lines := strings.Split(text, "\n")
	for _, c := range classes {
		line := classLine(lines, c.Name)
		if manifest.IsReservedClass(c.Name) {
			diagnostics = append(diagnostics, newDiagnostic(
				protocol.DiagnosticSeverityWarning, line, 0,
				fmt.Sprintf("class %s is in a runtime package", c.Name)))
		}
		if _, err := v.Classes.Link(c.Name); err != nil {
			diagnostics = append(diagnostics, newDiagnostic(
				protocol.DiagnosticSeverityError, line, 0, err.Error()))
		}
	}
	return diagnostics
}

func newDiagnostic(severity protocol.DiagnosticSeverity, line, col int, msg string) protocol.Diagnostic {
	if line < 0 {
		line = 0
	}
	if col < 0 {
		col = 0
	}
	source := lspName
	pos := protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(col)}
	return protocol.Diagnostic{
		Range:    protocol.Range{Start: pos, End: pos},
		Severity: &severity,
		Source:   &source,
		Message:  msg,
	}
}

// classLine returns the 0-based line of the "class name" directive.
func classLine(lines []string, name string) int {
	for i, l := range lines {
		f := strings.Fields(l)
		if len(f) >= 2 && f[0] == "class" && f[1] == name {
			return i
		}
	}
	return 0
}

func complete(v *vm.VM, text, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	add := func(label string, kind protocol.CompletionItemKind, detail string) {
		if !strings.HasPrefix(label, prefix) {
			return
		}
		l := label
		d := detail
		items = append(items, protocol.CompletionItem{
			Label:      l,
			Kind:       &kind,
			Detail:     &d,
			InsertText: &l,
		})
	}

	for _, d := range asm.Directives() {
		add(d, protocol.CompletionItemKindKeyword, "directive")
	}
	for _, name := range vm.Mnemonics() {
		op, _ := vm.OpcodeByName(name)
		add(name, protocol.CompletionItemKindKeyword, op.Info().Doc)
	}

	loadDocument(v, text)
	for _, cls := range v.Classes.All() {
		detail := "class"
		if cls.SuperName != "" {
			detail = fmt.Sprintf("class extends %s", cls.SuperName)
		}
		add(cls.Name, protocol.CompletionItemKindClass, detail)
	}

	seen := map[string]bool{}
	for _, l := range scanLabels(text).defs {
		if !seen[l.name] {
			seen[l.name] = true
			add(l.name, protocol.CompletionItemKindReference, "label")
		}
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items
}

func hover(v *vm.VM, text, word string) *protocol.Hover {
	var b strings.Builder

	if op, ok := vm.OpcodeByName(word); ok {
		info := op.Info()
		fmt.Fprintf(&b, "**%s** (0x%02x)\n\n%s", info.Name, byte(op), info.Doc)
		return markdown(b.String())
	}

	loadDocument(v, text)
	cls := v.Classes.Lookup(word)
	if cls == nil {
		return nil
	}
	fmt.Fprintf(&b, "**%s**", cls.Name)
	if cls.SuperName != "" {
		fmt.Fprintf(&b, " extends %s", cls.SuperName)
	}
	b.WriteString("\n\n")
	if cls.SourceFile != "" {
		fmt.Fprintf(&b, "Source: `%s`\n\n", cls.SourceFile)
	}
	if len(cls.Fields) > 0 {
		b.WriteString("Fields:\n")
		for _, f := range cls.Fields {
			fmt.Fprintf(&b, "- `%s %s`\n", f.Name, f.Descriptor)
		}
		b.WriteString("\n")
	}
	if len(cls.Methods) > 0 {
		var sigs []string
		for _, m := range cls.Methods {
			sig := m.Name + m.Descriptor
			if m.Static {
				sig = "static " + sig
			}
			if m.IsNative() {
				sig = "native " + sig
			}
			sigs = append(sigs, sig)
		}
		sort.Strings(sigs)
		b.WriteString("Methods:\n")
		for _, sig := range sigs {
			fmt.Fprintf(&b, "- `%s`\n", sig)
		}
		b.WriteString("\n")
	}

	if c, err := v.Classes.Link(cls.Name); err == nil {
		fmt.Fprintf(&b, "**Hierarchy:** %s", strings.Join(c.Tags(), " → "))
	}
	return markdown(strings.TrimRight(b.String(), "\n"))
}

func markdown(s string) *protocol.Hover {
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: s,
		},
	}
}

// definition resolves a label reference to its definition in the same
// method, falling back to any definition in the document.
func definition(uri protocol.DocumentUri, text string, pos protocol.Position, word string) []protocol.Location {
	labels := scanLabels(text)
	method := labels.methodAt(int(pos.Line) + 1)
	var fallback *labelDef
	for i := range labels.defs {
		d := &labels.defs[i]
		if d.name != word {
			continue
		}
		if d.method == method {
			return []protocol.Location{labelLocation(uri, *d)}
		}
		if fallback == nil {
			fallback = d
		}
	}
	if fallback != nil {
		return []protocol.Location{labelLocation(uri, *fallback)}
	}
	return nil
}

func labelLocation(uri protocol.DocumentUri, d labelDef) protocol.Location {
	start := protocol.Position{Line: protocol.UInteger(d.pos.Line - 1), Character: protocol.UInteger(d.pos.Column - 1)}
	end := start
	end.Character += protocol.UInteger(len(d.name))
	return protocol.Location{URI: uri, Range: protocol.Range{Start: start, End: end}}
}

// --- Label scanning ---

type labelDef struct {
	name   string
	pos    asm.Position
	method int // index of the enclosing method block, -1 outside methods
}

type labelIndex struct {
	defs       []labelDef
	lineMethod map[int]int // 1-based line → method index
}

func (l labelIndex) methodAt(line int) int {
	if m, ok := l.lineMethod[line]; ok {
		return m
	}
	return -1
}

// scanLabels tokenizes text, recording label definitions and which method
// block each line belongs to. Lexical errors are skipped.
func scanLabels(text string) labelIndex {
	idx := labelIndex{lineMethod: map[int]int{}}
	lexer := asm.NewLexer(text)
	method, inMethod, lineStart := -1, false, true
	for {
		tok := lexer.NextToken()
		if tok.Type == asm.TokenEOF {
			return idx
		}
		if inMethod {
			idx.lineMethod[tok.Pos.Line] = method
		}
		switch {
		case tok.Type == asm.TokenNewline:
			lineStart = true
			continue
		case lineStart && tok.Type == asm.TokenWord && tok.Literal == "method":
			method++
			inMethod = true
			idx.lineMethod[tok.Pos.Line] = method
		case lineStart && tok.Type == asm.TokenWord && tok.Literal == "end":
			inMethod = false
		case tok.Type == asm.TokenLabel:
			m := -1
			if inMethod {
				m = method
			}
			idx.defs = append(idx.defs, labelDef{name: tok.Literal, pos: tok.Pos, method: m})
		}
		if tok.Type != asm.TokenLabel {
			lineStart = false
		}
	}
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	result, err := s.worker.Do(func(v *vm.VM) interface{} {
		return diagnose(v, text)
	})
	if err != nil {
		lspLog.Errorf("diagnostics for %s: %v", uri, err)
		return
	}

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: result.([]protocol.Diagnostic),
	})
}

// --- Text extraction helpers ---

// isWordByte reports whether ch can be part of a class name, mnemonic or
// label. '.' and '(' end a word so the class part of a member reference
// is picked out on its own.
func isWordByte(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || strings.ContainsRune("_/$<>", ch)
}

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the word
	start := col
	for start > 0 && isWordByte(rune(line[start-1])) {
		start--
	}
	return line[start:col]
}

// extractWord returns the full word under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isWordByte(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isWordByte(rune(line[end])) {
		end++
	}
	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
