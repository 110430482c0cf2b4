package transform

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ErrUnsafeCustomLogic rejects custom-logic expressions that use
// anything beyond the allowed forms: literals, the names payload and
// parameters, lists, maps, subscripts, arithmetic, comparisons, boolean
// operators, and unary minus.
var ErrUnsafeCustomLogic = errors.New("unsafe custom logic")

// evalExpr evaluates a custom-logic expression against the two bound
// names. The evaluator is a plain AST walk with no host evaluation,
// no calls, and no attribute access.
func evalExpr(source string, payload, parameters map[string]any) (any, error) {
	tokens, err := lexExpr(source)
	if err != nil {
		return nil, err
	}
	p := &exprParser{tokens: tokens}
	node, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, fmt.Errorf("%w: trailing input at %q", ErrUnsafeCustomLogic, p.peek().text)
	}
	return node.eval(map[string]any{"payload": payload, "parameters": parameters})
}

// --- lexer ---

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokString
	tokName
	tokOp
	tokEOF
)

type exprToken struct {
	kind tokenKind
	text string
}

func lexExpr(source string) ([]exprToken, error) {
	var tokens []exprToken
	runes := []rune(source)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r):
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			tokens = append(tokens, exprToken{kind: tokNumber, text: string(runes[start:i])})
		case r == '\'' || r == '"':
			quote := r
			i++
			var b strings.Builder
			for i < len(runes) && runes[i] != quote {
				if runes[i] == '\\' && i+1 < len(runes) {
					i++
				}
				b.WriteRune(runes[i])
				i++
			}
			if i >= len(runes) {
				return nil, fmt.Errorf("%w: unterminated string", ErrUnsafeCustomLogic)
			}
			i++
			tokens = append(tokens, exprToken{kind: tokString, text: b.String()})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			tokens = append(tokens, exprToken{kind: tokName, text: string(runes[start:i])})
		case strings.ContainsRune("+-*/%", r):
			tokens = append(tokens, exprToken{kind: tokOp, text: string(r)})
			i++
		case strings.ContainsRune("()[]{},:", r):
			tokens = append(tokens, exprToken{kind: tokOp, text: string(r)})
			i++
		case r == '=' || r == '!' || r == '<' || r == '>':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, exprToken{kind: tokOp, text: string(runes[i : i+2])})
				i += 2
			} else if r == '<' || r == '>' {
				tokens = append(tokens, exprToken{kind: tokOp, text: string(r)})
				i++
			} else {
				return nil, fmt.Errorf("%w: unexpected character %q", ErrUnsafeCustomLogic, string(r))
			}
		default:
			return nil, fmt.Errorf("%w: unexpected character %q", ErrUnsafeCustomLogic, string(r))
		}
	}
	return append(tokens, exprToken{kind: tokEOF}), nil
}

// --- parser ---

type exprNode interface {
	eval(env map[string]any) (any, error)
}

type exprParser struct {
	tokens []exprToken
	pos    int
}

func (p *exprParser) peek() exprToken { return p.tokens[p.pos] }

func (p *exprParser) next() exprToken {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *exprParser) atEnd() bool { return p.peek().kind == tokEOF }

func (p *exprParser) accept(text string) bool {
	if p.peek().kind == tokOp && p.peek().text == text {
		p.pos++
		return true
	}
	return false
}

func (p *exprParser) acceptName(text string) bool {
	if p.peek().kind == tokName && p.peek().text == text {
		p.pos++
		return true
	}
	return false
}

func (p *exprParser) expect(text string) error {
	if !p.accept(text) {
		return fmt.Errorf("%w: expected %q, found %q", ErrUnsafeCustomLogic, text, p.peek().text)
	}
	return nil
}

// parseExpr handles "or", the lowest precedence level.
func (p *exprParser) parseExpr() (exprNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptName("or") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &boolNode{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseAnd() (exprNode, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.acceptName("and") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &boolNode{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseNot() (exprNode, error) {
	if p.acceptName("not") {
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notNode{operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *exprParser) parseComparison() (exprNode, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for _, op := range []string{"==", "!=", "<=", ">=", "<", ">"} {
		if p.accept(op) {
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return &compareNode{op: op, left: left, right: right}, nil
		}
	}
	return left, nil
}

func (p *exprParser) parseAdditive() (exprNode, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch {
		case p.accept("+"):
			op = "+"
		case p.accept("-"):
			op = "-"
		default:
			return left, nil
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &arithNode{op: op, left: left, right: right}
	}
}

func (p *exprParser) parseMultiplicative() (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		switch {
		case p.accept("*"):
			op = "*"
		case p.accept("/"):
			op = "/"
		case p.accept("%"):
			op = "%"
		default:
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &arithNode{op: op, left: left, right: right}
	}
}

func (p *exprParser) parseUnary() (exprNode, error) {
	if p.accept("-") {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &negNode{operand: operand}, nil
	}
	return p.parsePostfix()
}

// parsePostfix handles subscripts. A call suffix is rejected outright.
func (p *exprParser) parsePostfix() (exprNode, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.accept("["):
			index, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			node = &subscriptNode{target: node, index: index}
		case p.peek().kind == tokOp && p.peek().text == "(":
			return nil, fmt.Errorf("%w: function calls are not allowed", ErrUnsafeCustomLogic)
		default:
			return node, nil
		}
	}
}

func (p *exprParser) parsePrimary() (exprNode, error) {
	tok := p.peek()
	switch {
	case tok.kind == tokNumber:
		p.next()
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrUnsafeCustomLogic, tok.text)
		}
		return &literalNode{value: f}, nil
	case tok.kind == tokString:
		p.next()
		return &literalNode{value: tok.text}, nil
	case tok.kind == tokName:
		p.next()
		switch tok.text {
		case "true", "True":
			return &literalNode{value: true}, nil
		case "false", "False":
			return &literalNode{value: false}, nil
		case "null", "None":
			return &literalNode{value: nil}, nil
		case "payload", "parameters":
			return &nameNode{name: tok.text}, nil
		default:
			return nil, fmt.Errorf("%w: unknown name %q", ErrUnsafeCustomLogic, tok.text)
		}
	case p.accept("("):
		// Grouping, or a tuple when commas appear.
		first, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if !p.accept(",") {
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return first, nil
		}
		items := []exprNode{first}
		for !p.accept(")") {
			item, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			items = append(items, item)
			if !p.accept(",") {
				if err := p.expect(")"); err != nil {
					return nil, err
				}
				break
			}
		}
		return &listNode{items: items}, nil
	case p.accept("["):
		var items []exprNode
		for !p.accept("]") {
			item, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			items = append(items, item)
			if !p.accept(",") {
				if err := p.expect("]"); err != nil {
					return nil, err
				}
				break
			}
		}
		return &listNode{items: items}, nil
	case p.accept("{"):
		node := &mapNode{}
		for !p.accept("}") {
			key, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(":"); err != nil {
				return nil, err
			}
			value, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			node.keys = append(node.keys, key)
			node.values = append(node.values, value)
			if !p.accept(",") {
				if err := p.expect("}"); err != nil {
					return nil, err
				}
				break
			}
		}
		return node, nil
	default:
		return nil, fmt.Errorf("%w: unexpected token %q", ErrUnsafeCustomLogic, tok.text)
	}
}

// --- nodes ---

type literalNode struct{ value any }

func (n *literalNode) eval(map[string]any) (any, error) { return n.value, nil }

type nameNode struct{ name string }

func (n *nameNode) eval(env map[string]any) (any, error) { return env[n.name], nil }

type listNode struct{ items []exprNode }

func (n *listNode) eval(env map[string]any) (any, error) {
	out := make([]any, len(n.items))
	for i, item := range n.items {
		v, err := item.eval(env)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type mapNode struct {
	keys   []exprNode
	values []exprNode
}

func (n *mapNode) eval(env map[string]any) (any, error) {
	out := make(map[string]any, len(n.keys))
	for i := range n.keys {
		k, err := n.keys[i].eval(env)
		if err != nil {
			return nil, err
		}
		key, ok := k.(string)
		if !ok {
			return nil, fmt.Errorf("map key must be a string, got %T", k)
		}
		v, err := n.values[i].eval(env)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

type subscriptNode struct {
	target exprNode
	index  exprNode
}

func (n *subscriptNode) eval(env map[string]any) (any, error) {
	target, err := n.target.eval(env)
	if err != nil {
		return nil, err
	}
	index, err := n.index.eval(env)
	if err != nil {
		return nil, err
	}

	switch t := target.(type) {
	case map[string]any:
		key, ok := index.(string)
		if !ok {
			return nil, fmt.Errorf("map subscript must be a string, got %T", index)
		}
		return t[key], nil
	case []any:
		f, ok := index.(float64)
		if !ok {
			return nil, fmt.Errorf("list subscript must be a number, got %T", index)
		}
		i := int(f)
		if i < 0 {
			i += len(t)
		}
		if i < 0 || i >= len(t) {
			return nil, fmt.Errorf("list index %d out of range", int(f))
		}
		return t[i], nil
	default:
		return nil, fmt.Errorf("cannot subscript %T", target)
	}
}

type negNode struct{ operand exprNode }

func (n *negNode) eval(env map[string]any) (any, error) {
	v, err := n.operand.eval(env)
	if err != nil {
		return nil, err
	}
	f, ok := v.(float64)
	if !ok {
		return nil, fmt.Errorf("unary minus needs a number, got %T", v)
	}
	return -f, nil
}

type notNode struct{ operand exprNode }

func (n *notNode) eval(env map[string]any) (any, error) {
	v, err := n.operand.eval(env)
	if err != nil {
		return nil, err
	}
	return !truthy(v), nil
}

type boolNode struct {
	op          string
	left, right exprNode
}

func (n *boolNode) eval(env map[string]any) (any, error) {
	left, err := n.left.eval(env)
	if err != nil {
		return nil, err
	}
	if n.op == "and" {
		if !truthy(left) {
			return left, nil
		}
		return n.right.eval(env)
	}
	if truthy(left) {
		return left, nil
	}
	return n.right.eval(env)
}

type compareNode struct {
	op          string
	left, right exprNode
}

func (n *compareNode) eval(env map[string]any) (any, error) {
	left, err := n.left.eval(env)
	if err != nil {
		return nil, err
	}
	right, err := n.right.eval(env)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return deepEqual(left, right), nil
	case "!=":
		return !deepEqual(left, right), nil
	}

	lf, lok := left.(float64)
	rf, rok := right.(float64)
	if lok && rok {
		switch n.op {
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}
	ls, lsok := left.(string)
	rs, rsok := right.(string)
	if lsok && rsok {
		switch n.op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}
	return nil, fmt.Errorf("cannot compare %T and %T", left, right)
}

type arithNode struct {
	op          string
	left, right exprNode
}

func (n *arithNode) eval(env map[string]any) (any, error) {
	left, err := n.left.eval(env)
	if err != nil {
		return nil, err
	}
	right, err := n.right.eval(env)
	if err != nil {
		return nil, err
	}

	if n.op == "+" {
		if ls, ok := left.(string); ok {
			if rs, ok := right.(string); ok {
				return ls + rs, nil
			}
		}
		if ll, ok := left.([]any); ok {
			if rl, ok := right.([]any); ok {
				return append(append([]any{}, ll...), rl...), nil
			}
		}
	}

	lf, lok := left.(float64)
	rf, rok := right.(float64)
	if !lok || !rok {
		return nil, fmt.Errorf("operator %q needs numbers, got %T and %T", n.op, left, right)
	}
	switch n.op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, errors.New("division by zero")
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, errors.New("division by zero")
		}
		return float64(int64(lf) % int64(rf)), nil
	}
	return nil, fmt.Errorf("%w: operator %q", ErrUnsafeCustomLogic, n.op)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func deepEqual(a, b any) bool {
	switch at := a.(type) {
	case []any:
		bt, ok := b.([]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for i := range at {
			if !deepEqual(at[i], bt[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bt, ok := b.(map[string]any)
		if !ok || len(at) != len(bt) {
			return false
		}
		for k, av := range at {
			bv, present := bt[k]
			if !present || !deepEqual(av, bv) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
