package vars

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/file"
	"github.com/expr-lang/expr/parser/lexer"
)

// Playbook spellings of the literals.
var literals = map[string]string{
	"true":  "true",
	"True":  "true",
	"false": "false",
	"False": "false",
	"nil":   "nil",
	"none":  "nil",
	"None":  "nil",
}

// Eval evaluates a task condition (when, changed_when, failed_when).
//
// Conditions use the expr language (==, !=, <, and, or, not, in, quoted
// strings, numbers, dotted variable paths) plus the playbook forms
// "name is defined" and "name is not defined". Operands of and, or and not
// are coerced with the usual truthiness rules, so a bare variable holding
// "no" or 0 is false. Referencing an undefined variable is an error. An empty
// condition is true.
func Eval(cond string, vars map[string]any) (bool, error) {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return true, nil
	}
	if vars == nil {
		vars = map[string]any{}
	}

	code, err := translate(cond, vars)
	if err != nil {
		return false, err
	}

	program, err := expr.Compile(code,
		expr.Function("defined", func(params ...any) (any, error) {
			path, _ := params[0].(string)
			_, ok := Lookup(path, vars)
			return ok, nil
		}, new(func(string) bool)),
		expr.Function("truthy", func(params ...any) (any, error) {
			return truthy(params[0]), nil
		}, new(func(any) bool)),
		expr.Patch(truthyOperands{}),
	)
	if err != nil {
		return false, fmt.Errorf("invalid condition %q: %w", cond, err)
	}

	out, err := expr.Run(program, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition %q: %w", cond, err)
	}
	return truthy(out), nil
}

// translate rewrites the playbook forms into expr syntax and checks that
// every variable path the condition reads exists.
func translate(cond string, vars map[string]any) (string, error) {
	tokens, err := lexer.Lex(file.NewSource(cond))
	if err != nil {
		return "", fmt.Errorf("invalid condition %q: %w", cond, err)
	}

	var out []string
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		switch t.Kind {
		case lexer.EOF:
			continue
		case lexer.String:
			out = append(out, strconv.Quote(t.Value))
			continue
		case lexer.Identifier:
		default:
			out = append(out, t.Value)
			continue
		}

		if i > 0 && tokens[i-1].Is(lexer.Operator, ".", "?.") {
			out = append(out, t.Value)
			continue
		}
		if lit, ok := literals[t.Value]; ok {
			out = append(out, lit)
			continue
		}
		if i+1 < len(tokens) && tokens[i+1].Is(lexer.Bracket, "(") {
			out = append(out, t.Value)
			continue
		}

		path := t.Value
		j := i + 1
		for j+1 < len(tokens) && tokens[j].Is(lexer.Operator, ".") && tokens[j+1].Kind == lexer.Identifier {
			path += "." + tokens[j+1].Value
			j += 2
		}

		if j < len(tokens) && tokens[j].Is(lexer.Identifier, "is") {
			k := j + 1
			negate := false
			if k < len(tokens) && tokens[k].Is(lexer.Operator, "not") {
				negate = true
				k++
			}
			if k < len(tokens) && tokens[k].Is(lexer.Identifier, "defined") {
				call := "defined(" + strconv.Quote(path) + ")"
				if negate {
					call = "not " + call
				}
				out = append(out, call)
				i = k
				continue
			}
		}

		if _, ok := Lookup(path, vars); !ok {
			return "", fmt.Errorf("undefined variable %q", path)
		}
		out = append(out, path)
		i = j - 1
	}
	return strings.Join(out, " "), nil
}

// truthyOperands wraps the operands of boolean operators in truthy().
type truthyOperands struct{}

func (truthyOperands) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.BinaryNode:
		switch n.Operator {
		case "and", "&&", "or", "||":
			n.Left = wrapTruthy(n.Left)
			n.Right = wrapTruthy(n.Right)
		}
	case *ast.UnaryNode:
		if n.Operator == "not" || n.Operator == "!" {
			n.Node = wrapTruthy(n.Node)
		}
	}
}

func wrapTruthy(n ast.Node) ast.Node {
	if call, ok := n.(*ast.CallNode); ok {
		if id, ok := call.Callee.(*ast.IdentifierNode); ok && id.Value == "truthy" {
			return n
		}
	}
	return &ast.CallNode{
		Callee:    &ast.IdentifierNode{Value: "truthy"},
		Arguments: []ast.Node{n},
	}
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case int:
		return val != 0
	case int64:
		return val != 0
	case uint64:
		return val != 0
	case float64:
		return val != 0
	case string:
		switch strings.ToLower(val) {
		case "", "false", "no", "off", "0":
			return false
		}
		return true
	case map[string]any:
		return len(val) > 0
	case []any:
		return len(val) > 0
	}
	return true
}
