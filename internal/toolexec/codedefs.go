package toolexec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

// CodeDefinition is one top-level symbol extracted from a source file.
type CodeDefinition struct {
	Name      string
	Kind      string
	Signature string
	StartLine int
	EndLine   int
}

// ListCodeDefinitions implements list_code_definitions: a structural scan
// for top-level functions, classes, and types. Files whose extension has a
// bundled tree-sitter grammar (currently Go) get an AST-accurate scan;
// everything else falls through to a small per-language regex table.
func ListCodeDefinitions(_ context.Context, pv *PathValidator, path string) ([]CodeDefinition, error) {
	abs, err := pv.Validate(path)
	if err != nil {
		return nil, err
	}
	src, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".go" {
		return extractGoDefinitions(src)
	}
	return extractRegexDefinitions(ext, string(src)), nil
}

func extractGoDefinitions(src []byte) ([]CodeDefinition, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(golang.GetLanguage())

	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse go source: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	var defs []CodeDefinition
	for i := 0; i < int(root.ChildCount()); i++ {
		child := root.Child(i)
		switch child.Type() {
		case "function_declaration":
			defs = append(defs, goFuncDef(child, src, "func"))
		case "method_declaration":
			defs = append(defs, goFuncDef(child, src, "method"))
		case "type_declaration":
			for j := 0; j < int(child.ChildCount()); j++ {
				spec := child.Child(j)
				if spec.Type() != "type_spec" && spec.Type() != "type_alias" {
					continue
				}
				name := spec.ChildByFieldName("name")
				typeNode := spec.ChildByFieldName("type")
				kind := "type"
				if typeNode != nil {
					switch typeNode.Type() {
					case "struct_type":
						kind = "struct"
					case "interface_type":
						kind = "interface"
					}
				}
				def := CodeDefinition{Kind: kind, StartLine: goLine(spec), EndLine: goEndLine(spec)}
				if name != nil {
					def.Name = name.Content(src)
					def.Signature = "type " + def.Name
				}
				defs = append(defs, def)
			}
		case "const_declaration", "var_declaration":
			kind := "const"
			if child.Type() == "var_declaration" {
				kind = "var"
			}
			for j := 0; j < int(child.ChildCount()); j++ {
				spec := child.Child(j)
				if spec.Type() != "const_spec" && spec.Type() != "var_spec" {
					continue
				}
				name := spec.ChildByFieldName("name")
				if name == nil {
					continue
				}
				defs = append(defs, CodeDefinition{
					Name: name.Content(src), Kind: kind,
					StartLine: goLine(spec), EndLine: goEndLine(spec),
				})
			}
		}
	}
	return defs, nil
}

func goFuncDef(node *sitter.Node, src []byte, kind string) CodeDefinition {
	name := node.ChildByFieldName("name")
	params := node.ChildByFieldName("parameters")
	result := node.ChildByFieldName("result")
	receiver := node.ChildByFieldName("receiver")

	def := CodeDefinition{Kind: kind, StartLine: goLine(node), EndLine: goEndLine(node)}
	if name != nil {
		def.Name = name.Content(src)
	}

	var b strings.Builder
	b.WriteString("func ")
	if receiver != nil {
		b.WriteString(receiver.Content(src))
		b.WriteByte(' ')
	}
	b.WriteString(def.Name)
	if params != nil {
		b.WriteString(params.Content(src))
	}
	if result != nil {
		b.WriteByte(' ')
		b.WriteString(result.Content(src))
	}
	def.Signature = b.String()
	return def
}

func goLine(n *sitter.Node) int    { return int(n.StartPoint().Row) + 1 }
func goEndLine(n *sitter.Node) int { return int(n.EndPoint().Row) + 1 }

// regexDefPattern pairs a per-language top-level-definition regex with the
// kind label to report for its match.
type regexDefPattern struct {
	re   *regexp.Regexp
	kind string
}

var regexDefsByExt = map[string][]regexDefPattern{
	".py": {
		{re: regexp.MustCompile(`^def\s+(\w+)\s*\(`), kind: "func"},
		{re: regexp.MustCompile(`^class\s+(\w+)`), kind: "class"},
	},
	".js": {
		{re: regexp.MustCompile(`^(?:export\s+)?function\s+(\w+)\s*\(`), kind: "func"},
		{re: regexp.MustCompile(`^(?:export\s+)?class\s+(\w+)`), kind: "class"},
		{re: regexp.MustCompile(`^(?:export\s+)?const\s+(\w+)\s*=\s*(?:async\s*)?\(`), kind: "func"},
	},
	".ts": {
		{re: regexp.MustCompile(`^(?:export\s+)?function\s+(\w+)\s*\(`), kind: "func"},
		{re: regexp.MustCompile(`^(?:export\s+)?class\s+(\w+)`), kind: "class"},
		{re: regexp.MustCompile(`^(?:export\s+)?interface\s+(\w+)`), kind: "interface"},
		{re: regexp.MustCompile(`^(?:export\s+)?type\s+(\w+)`), kind: "type"},
	},
	".rs": {
		{re: regexp.MustCompile(`^(?:pub\s+)?fn\s+(\w+)\s*\(`), kind: "func"},
		{re: regexp.MustCompile(`^(?:pub\s+)?struct\s+(\w+)`), kind: "struct"},
		{re: regexp.MustCompile(`^(?:pub\s+)?enum\s+(\w+)`), kind: "enum"},
		{re: regexp.MustCompile(`^(?:pub\s+)?trait\s+(\w+)`), kind: "trait"},
	},
}

// genericBraceDepthPattern is the fallback for extensions with no dedicated
// table entry: any top-level (brace-depth-zero) line that looks like a
// named declaration followed eventually by a brace.
var genericBraceDepthPattern = regexp.MustCompile(`^\s*(?:\w+\s+)*?(\w+)\s*[\(\{]`)

func extractRegexDefinitions(ext, src string) []CodeDefinition {
	patterns, ok := regexDefsByExt[ext]
	lines := strings.Split(src, "\n")
	var defs []CodeDefinition

	if ok {
		for i, line := range lines {
			for _, p := range patterns {
				if m := p.re.FindStringSubmatch(line); m != nil {
					defs = append(defs, CodeDefinition{
						Name: m[1], Kind: p.kind,
						Signature: strings.TrimSpace(line),
						StartLine: i + 1, EndLine: i + 1,
					})
				}
			}
		}
		return defs
	}

	depth := 0
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if depth == 0 {
			if m := genericBraceDepthPattern.FindStringSubmatch(trimmed); m != nil {
				defs = append(defs, CodeDefinition{
					Name: m[1], Kind: "symbol", Signature: trimmed,
					StartLine: i + 1, EndLine: i + 1,
				})
			}
		}
		depth += strings.Count(line, "{") - strings.Count(line, "}")
	}
	return defs
}
