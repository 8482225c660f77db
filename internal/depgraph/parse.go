package depgraph

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Language is a source language the graph understands.
type Language string

const (
	Go         Language = "go"
	Python     Language = "python"
	JavaScript Language = "javascript"
	TypeScript Language = "typescript"
)

var extLanguages = map[string]Language{
	".go":  Go,
	".py":  Python,
	".js":  JavaScript,
	".jsx": JavaScript,
	".mjs": JavaScript,
	".cjs": JavaScript,
	".ts":  TypeScript,
	".tsx": TypeScript,
}

// LanguageOf returns the language of a slash-separated path, or "" when it
// is not supported.
func LanguageOf(p string) Language {
	return extLanguages[strings.ToLower(path.Ext(p))]
}

func grammar(p string) *sitter.Language {
	switch strings.ToLower(path.Ext(p)) {
	case ".go":
		return golang.GetLanguage()
	case ".py":
		return python.GetLanguage()
	case ".ts":
		return typescript.GetLanguage()
	case ".tsx":
		return tsx.GetLanguage()
	case ".js", ".jsx", ".mjs", ".cjs":
		return javascript.GetLanguage()
	}
	return nil
}

// Definition is a declared function, method or class.
type Definition struct {
	Name      string `json:"name"`
	Signature string `json:"signature"`
}

// File is what the graph records about one source file.
type File struct {
	Language    Language     `json:"language"`
	Imports     []string     `json:"imports,omitempty"`
	Definitions []Definition `json:"definitions,omitempty"`
	Calls       []string     `json:"calls,omitempty"`
}

// Parse extracts the imports, definitions and called names of src. The
// grammar is chosen by the extension of rel.
func Parse(ctx context.Context, rel string, src []byte) (File, error) {
	lang := grammar(rel)
	if lang == nil {
		return File{}, fmt.Errorf("unsupported source file: %s", rel)
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return File{}, fmt.Errorf("parse %s: %w", rel, err)
	}
	defer tree.Close()

	x := &extractor{src: src, imports: map[string]bool{}, calls: map[string]bool{}}
	switch LanguageOf(rel) {
	case Go:
		x.walk(tree.RootNode(), x.goNode)
	case Python:
		x.walk(tree.RootNode(), x.pythonNode)
	default:
		x.walk(tree.RootNode(), x.jsNode)
	}

	f := File{Language: LanguageOf(rel), Definitions: x.defs}
	f.Imports = sortedSet(x.imports)
	f.Calls = sortedSet(x.calls)
	return f, nil
}

type extractor struct {
	src     []byte
	imports map[string]bool
	calls   map[string]bool
	defs    []Definition
}

func (x *extractor) walk(n *sitter.Node, visit func(*sitter.Node)) {
	visit(n)
	for i := 0; i < int(n.ChildCount()); i++ {
		x.walk(n.Child(i), visit)
	}
}

func (x *extractor) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(x.src)
}

func (x *extractor) define(name *sitter.Node, signature string) {
	if name == nil {
		return
	}
	x.defs = append(x.defs, Definition{Name: x.text(name), Signature: strings.Join(strings.Fields(signature), " ")})
}

// call records the name a call expression invokes: the identifier itself or
// the member of a selector.
func (x *extractor) call(fn *sitter.Node, selector, member string) {
	if fn == nil {
		return
	}
	switch fn.Type() {
	case "identifier":
		x.calls[x.text(fn)] = true
	case selector:
		if m := fn.ChildByFieldName(member); m != nil {
			x.calls[x.text(m)] = true
		}
	}
}

func (x *extractor) goNode(n *sitter.Node) {
	switch n.Type() {
	case "import_spec":
		if p := n.ChildByFieldName("path"); p != nil {
			x.imports[strings.Trim(x.text(p), "\"`")] = true
		}
	case "function_declaration":
		name := n.ChildByFieldName("name")
		x.define(name, "func "+x.text(name)+x.text(n.ChildByFieldName("parameters"))+" "+x.text(n.ChildByFieldName("result")))
	case "method_declaration":
		name := n.ChildByFieldName("name")
		x.define(name, "func "+x.text(n.ChildByFieldName("receiver"))+" "+x.text(name)+
			x.text(n.ChildByFieldName("parameters"))+" "+x.text(n.ChildByFieldName("result")))
	case "call_expression":
		x.call(n.ChildByFieldName("function"), "selector_expression", "field")
	}
}

func (x *extractor) pythonNode(n *sitter.Node) {
	switch n.Type() {
	case "import_statement":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			x.imports[x.pythonModule(n.NamedChild(i))] = true
		}
	case "import_from_statement":
		module := x.text(n.ChildByFieldName("module_name"))
		x.imports[module] = true
		// "from pkg import mod" may name a submodule.
		for i := 0; i < int(n.ChildCount()); i++ {
			if n.FieldNameForChild(i) != "name" {
				continue
			}
			name := x.pythonModule(n.Child(i))
			if strings.HasSuffix(module, ".") {
				x.imports[module+name] = true
			} else {
				x.imports[module+"."+name] = true
			}
		}
	case "function_definition":
		name := n.ChildByFieldName("name")
		sig := "def " + x.text(name) + x.text(n.ChildByFieldName("parameters"))
		if ret := n.ChildByFieldName("return_type"); ret != nil {
			sig += " -> " + x.text(ret)
		}
		x.define(name, sig)
	case "class_definition":
		name := n.ChildByFieldName("name")
		x.define(name, "class "+x.text(name)+x.text(n.ChildByFieldName("superclasses")))
	case "call":
		x.call(n.ChildByFieldName("function"), "attribute", "attribute")
	}
}

func (x *extractor) pythonModule(n *sitter.Node) string {
	if n.Type() == "aliased_import" {
		return x.text(n.ChildByFieldName("name"))
	}
	return x.text(n)
}

func (x *extractor) jsNode(n *sitter.Node) {
	switch n.Type() {
	case "import_statement", "export_statement":
		if src := n.ChildByFieldName("source"); src != nil {
			x.imports[unquote(x.text(src))] = true
		}
	case "call_expression":
		fn := n.ChildByFieldName("function")
		if fn != nil && (fn.Type() == "import" || (fn.Type() == "identifier" && x.text(fn) == "require")) {
			if args := n.ChildByFieldName("arguments"); args != nil && args.NamedChildCount() > 0 {
				if arg := args.NamedChild(0); arg.Type() == "string" {
					x.imports[unquote(x.text(arg))] = true
				}
			}
			return
		}
		x.call(fn, "member_expression", "property")
	case "function_declaration", "generator_function_declaration":
		name := n.ChildByFieldName("name")
		x.define(name, "function "+x.text(name)+x.text(n.ChildByFieldName("parameters"))+x.text(n.ChildByFieldName("return_type")))
	case "method_definition":
		name := n.ChildByFieldName("name")
		x.define(name, x.text(name)+x.text(n.ChildByFieldName("parameters"))+x.text(n.ChildByFieldName("return_type")))
	case "class_declaration":
		x.define(n.ChildByFieldName("name"), "class "+x.text(n.ChildByFieldName("name")))
	case "variable_declarator":
		value := n.ChildByFieldName("value")
		if value == nil {
			return
		}
		switch value.Type() {
		case "arrow_function", "function", "function_expression":
			params := value.ChildByFieldName("parameters")
			if params == nil {
				params = value.ChildByFieldName("parameter")
			}
			name := n.ChildByFieldName("name")
			x.define(name, "const "+x.text(name)+" = "+x.text(params)+x.text(value.ChildByFieldName("return_type")))
		}
	}
}

func unquote(s string) string {
	return strings.Trim(s, "\"'`")
}

func sortedSet(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		if k != "" {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
