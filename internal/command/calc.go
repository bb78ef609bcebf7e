package command

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"regexp"
	"strconv"
)

// leadingZeros matches zeros at the start of a number's integer part. Go
// literal syntax would read them as an octal prefix.
var leadingZeros = regexp.MustCompile(`(^|[^0-9.])0+([0-9])`)

// Evaluate computes an arithmetic expression made of numbers, + - * /,
// unary signs and parentheses. It walks the Go expression AST and rejects
// anything else, so nothing is ever executed.
func Evaluate(expr string) (float64, error) {
	if expr == "" {
		return 0, errors.New("empty expression")
	}
	node, err := parser.ParseExpr(trimLeadingZeros(expr))
	if err != nil {
		return 0, fmt.Errorf("invalid expression %q", expr)
	}
	v, err := eval(node)
	if err != nil {
		return 0, err
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, errors.New("result is not a finite number")
	}
	return v, nil
}

// trimLeadingZeros rewrites "08" as "8" and "007.5" as "7.5" so every
// number reads as decimal. A lone zero and fractional digits are kept.
func trimLeadingZeros(expr string) string {
	return leadingZeros.ReplaceAllString(expr, "${1}${2}")
}

func eval(node ast.Expr) (float64, error) {
	switch n := node.(type) {
	case *ast.BasicLit:
		if n.Kind != token.INT && n.Kind != token.FLOAT {
			return 0, fmt.Errorf("unsupported literal %s", n.Value)
		}
		return strconv.ParseFloat(n.Value, 64)

	case *ast.ParenExpr:
		return eval(n.X)

	case *ast.UnaryExpr:
		x, err := eval(n.X)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.SUB:
			return -x, nil
		case token.ADD:
			return x, nil
		}
		return 0, fmt.Errorf("unsupported operator %s", n.Op)

	case *ast.BinaryExpr:
		x, err := eval(n.X)
		if err != nil {
			return 0, err
		}
		y, err := eval(n.Y)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.ADD:
			return x + y, nil
		case token.SUB:
			return x - y, nil
		case token.MUL:
			return x * y, nil
		case token.QUO:
			if y == 0 {
				return 0, errors.New("division by zero")
			}
			return x / y, nil
		}
		return 0, fmt.Errorf("unsupported operator %s", n.Op)
	}
	return 0, fmt.Errorf("unsupported expression %T", node)
}

// FormatNumber prints integers without a fractional part.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
