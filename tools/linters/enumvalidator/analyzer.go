// Package enumvalidator reports string literals assigned to enum-typed
// struct fields. An enum type here is a named string type with at least one
// constant of that type declared in its package; assigning a raw literal
// bypasses the constant set and lets typos through the type checker.
package enumvalidator

import (
	"go/ast"
	"go/token"
	"go/types"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

var Analyzer = &analysis.Analyzer{
	Name:     "enumvalidator",
	Doc:      "reports string literals assigned to enum-typed struct fields",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

func run(pass *analysis.Pass) (any, error) {
	insp := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)

	nodeFilter := []ast.Node{
		(*ast.AssignStmt)(nil),
	}

	insp.Preorder(nodeFilter, func(n ast.Node) {
		assign := n.(*ast.AssignStmt)

		// Only parallel assignments pair up positionally; a single RHS
		// fanning out of a call can't be a literal.
		if len(assign.Lhs) != len(assign.Rhs) {
			return
		}

		for i, lhs := range assign.Lhs {
			sel, ok := lhs.(*ast.SelectorExpr)
			if !ok {
				continue
			}

			lit, ok := assign.Rhs[i].(*ast.BasicLit)
			if !ok || lit.Kind != token.STRING {
				continue
			}

			fieldType := pass.TypesInfo.TypeOf(sel)
			if fieldType == nil || !isEnumType(fieldType) {
				continue
			}

			pass.Reportf(lit.Pos(), "enum field %s assigned string literal", sel.Sel.Name)
		}
	})

	return nil, nil
}

// isEnumType reports whether t is a named string type with declared
// constants of that type.
func isEnumType(t types.Type) bool {
	named, ok := t.(*types.Named)
	if !ok {
		return false
	}

	basic, ok := named.Underlying().(*types.Basic)
	if !ok || basic.Kind() != types.String {
		return false
	}

	pkg := named.Obj().Pkg()
	if pkg == nil {
		return false
	}

	scope := pkg.Scope()
	for _, name := range scope.Names() {
		if c, ok := scope.Lookup(name).(*types.Const); ok && types.Identical(c.Type(), named) {
			return true
		}
	}

	return false
}
