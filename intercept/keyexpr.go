// Package intercept implements the InterceptionLayer component (spec.md
// C8): declarative cache-on-method decorators (CacheLookup, CacheWrite,
// CacheInvalidate) and the small key-expression language they key on.
// Grounded on the teacher's RequestCoalescer closures (cache-manager's
// singleflight.go wraps an arbitrary func() (interface{}, error), the same
// shape this package decorates) and generalized from an annotation-driven
// language (the spec's home ecosystem) into ordinary higher-order functions
// wrapping a Go method call, since Go has no method annotations.
package intercept

import (
	"fmt"
	"reflect"
	"strings"
)

// Args is the positional argument list a key expression evaluates against:
// p0 is args[0], p1 is args[1], and so on.
type Args []any

// exprNode is one term of a compiled key expression: either a string
// literal or a path rooted at a positional argument.
type exprNode struct {
	literal string // set when isLiteral
	isLiteral bool
	argIndex  int      // set when !isLiteral
	path      []string // property navigation after the positional root
}

// KeyExpression is a compiled instance of the language spec.md §4.8
// describes: identifiers bind to positional arguments (p0, p1, ...), `.`
// navigates struct fields or map keys, `+` concatenates terms, and a
// `'...'` prefix denotes a string literal. No side-effectful expressions
// are permitted — evaluation is read-only reflection over already-computed
// argument values.
type KeyExpression struct {
	source string
	nodes  []exprNode
}

// Source returns the original expression text, e.g. for logging.
func (k *KeyExpression) Source() string { return k.source }

// Compile parses a key expression into a KeyExpression ready for repeated
// Evaluate calls against different argument sets.
func Compile(expr string) (*KeyExpression, error) {
	terms := splitTerms(expr)
	if len(terms) == 0 {
		return nil, fmt.Errorf("intercept: empty key expression")
	}

	nodes := make([]exprNode, 0, len(terms))
	for _, term := range terms {
		node, err := compileTerm(term)
		if err != nil {
			return nil, fmt.Errorf("intercept: key expression %q: %w", expr, err)
		}
		nodes = append(nodes, node)
	}
	return &KeyExpression{source: expr, nodes: nodes}, nil
}

// splitTerms splits on top-level `+`, respecting single-quoted literals so
// a literal's own text is never mistaken for a concatenation operator.
func splitTerms(expr string) []string {
	var terms []string
	var cur strings.Builder
	inQuote := false
	for _, r := range expr {
		switch {
		case r == '\'':
			inQuote = !inQuote
			cur.WriteRune(r)
		case r == '+' && !inQuote:
			terms = append(terms, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		terms = append(terms, s)
	}
	return terms
}

func compileTerm(term string) (exprNode, error) {
	if strings.HasPrefix(term, "'") {
		if !strings.HasSuffix(term, "'") || len(term) < 2 {
			return exprNode{}, fmt.Errorf("unterminated string literal %q", term)
		}
		return exprNode{isLiteral: true, literal: term[1 : len(term)-1]}, nil
	}

	parts := strings.Split(term, ".")
	root := parts[0]
	if !strings.HasPrefix(root, "p") || len(root) < 2 {
		return exprNode{}, fmt.Errorf("expected positional argument (p0, p1, ...), got %q", root)
	}
	var idx int
	if _, err := fmt.Sscanf(root, "p%d", &idx); err != nil {
		return exprNode{}, fmt.Errorf("invalid positional argument %q", root)
	}
	return exprNode{argIndex: idx, path: parts[1:]}, nil
}

// Evaluate renders the compiled expression against a concrete argument
// list, producing the raw (unprefixed) cache key.
func (k *KeyExpression) Evaluate(args Args) (string, error) {
	var sb strings.Builder
	for _, node := range k.nodes {
		if node.isLiteral {
			sb.WriteString(node.literal)
			continue
		}
		if node.argIndex >= len(args) {
			return "", fmt.Errorf("intercept: key expression %q: p%d out of range (%d args given)", k.source, node.argIndex, len(args))
		}
		s, err := navigate(args[node.argIndex], node.path)
		if err != nil {
			return "", fmt.Errorf("intercept: key expression %q: %w", k.source, err)
		}
		sb.WriteString(s)
	}
	return sb.String(), nil
}

// navigate walks path (a sequence of `.field` accessors) over root via
// reflection, rendering the final value with fmt.Sprint. Struct fields and
// map keys are both supported; pointers are dereferenced transparently.
func navigate(root any, path []string) (string, error) {
	v := reflect.ValueOf(root)
	for _, field := range path {
		for v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return "", fmt.Errorf("nil pointer navigating to field %q", field)
			}
			v = v.Elem()
		}
		switch v.Kind() {
		case reflect.Struct:
			v = v.FieldByName(field)
			if !v.IsValid() {
				return "", fmt.Errorf("no field %q", field)
			}
		case reflect.Map:
			mv := v.MapIndex(reflect.ValueOf(field))
			if !mv.IsValid() {
				return "", fmt.Errorf("no map key %q", field)
			}
			v = mv
		default:
			return "", fmt.Errorf("cannot navigate field %q on kind %s", field, v.Kind())
		}
	}
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return "", fmt.Errorf("nil pointer at end of path")
		}
		v = v.Elem()
	}
	return fmt.Sprint(v.Interface()), nil
}
