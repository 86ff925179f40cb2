package actionvalidator

import (
	"github.com/contenox/analyst/jseval"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
)

// checkReturnPath parses the wrapped body and requires at least one return
// statement with an argument that is not a scalar or object literal. Other
// returns may be literals.
func checkReturnPath(body string) error {
	prog, err := parser.ParseFile(nil, "transform.js", jseval.WrapTransform(body), 0)
	if err != nil {
		return reject("js_syntax_error", "The transformation does not parse: %v", err)
	}
	var fn *ast.FunctionLiteral
	for _, stmt := range prog.Body {
		if decl, ok := stmt.(*ast.FunctionDeclaration); ok && decl.Function != nil {
			fn = decl.Function
			break
		}
	}
	if fn == nil || fn.Body == nil {
		return reject("js_syntax_error", "The transformation must be a function body.")
	}

	var returns []*ast.ReturnStatement
	collectReturns(fn.Body.List, &returns)

	literal := false
	for _, ret := range returns {
		if ret.Argument == nil {
			continue
		}
		switch ret.Argument.(type) {
		case *ast.NumberLiteral, *ast.StringLiteral, *ast.BooleanLiteral, *ast.NullLiteral, *ast.ObjectLiteral:
			// Early exits may return a literal; the runtime rejects non-arrays.
			literal = true
			continue
		}
		return nil
	}
	if literal {
		return reject("non_collection_return", "The transformation only returns literal values; return the transformed rows array.")
	}
	return reject("missing_return", "The transformation has no return statement; end it with `return rows;` or the transformed array.")
}

// collectReturns walks statements without descending into nested functions.
func collectReturns(stmts []ast.Statement, out *[]*ast.ReturnStatement) {
	for _, s := range stmts {
		collectReturn(s, out)
	}
}

func collectReturn(s ast.Statement, out *[]*ast.ReturnStatement) {
	switch n := s.(type) {
	case *ast.ReturnStatement:
		*out = append(*out, n)
	case *ast.BlockStatement:
		collectReturns(n.List, out)
	case *ast.IfStatement:
		collectReturn(n.Consequent, out)
		if n.Alternate != nil {
			collectReturn(n.Alternate, out)
		}
	case *ast.ForStatement:
		collectReturn(n.Body, out)
	case *ast.ForInStatement:
		collectReturn(n.Body, out)
	case *ast.ForOfStatement:
		collectReturn(n.Body, out)
	case *ast.WhileStatement:
		collectReturn(n.Body, out)
	case *ast.DoWhileStatement:
		collectReturn(n.Body, out)
	case *ast.LabelledStatement:
		collectReturn(n.Statement, out)
	case *ast.TryStatement:
		if n.Body != nil {
			collectReturns(n.Body.List, out)
		}
		if n.Catch != nil && n.Catch.Body != nil {
			collectReturns(n.Catch.Body.List, out)
		}
		if n.Finally != nil {
			collectReturns(n.Finally.List, out)
		}
	case *ast.SwitchStatement:
		for _, c := range n.Body {
			collectReturns(c.Consequent, out)
		}
	}
}
