// Package nowcheck provides a static analysis tool that detects direct
// time.Now() calls in packages that inject their clock.
//
// Packages whose types carry a `now func() time.Time` field substitute a
// fake clock in tests; a stray time.Now() in such a package bypasses the
// fake and makes TTL and window tests flaky. The analyzer flags time.Now()
// calls in those packages outside of approved locations:
//   - constructors (NewXxx, MustXxx), where the default clock is wired
//   - main() function in main packages and init() functions
//   - Test functions (TestXxx, BenchmarkXxx, ExampleXxx) and test helpers
//   - Lines with explicit exemption comments
//
// Usage:
//
//	go vet -vettool=$(which nowcheck) ./...
//
// Or integrate with golangci-lint as a custom analyzer.
package nowcheck

import (
	"go/ast"
	"go/token"
	"strings"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

// ExemptionComment is the magic comment that exempts a time.Now() call.
// Example: // nowcheck:exempt reason="wall-clock timestamp for audit record"
const ExemptionComment = "nowcheck:exempt"

// Analyzer is the injected-clock checker analyzer.
var Analyzer = &analysis.Analyzer{
	Name:     "nowcheck",
	Doc:      doc,
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

const doc = `check for time.Now() calls that bypass an injected clock

A package that declares a 'now func() time.Time' field injects its clock so
tests can advance time deterministically. Calling time.Now() directly in such
a package reads the real clock behind the fake's back, producing TTL and
window tests that only fail under load.

Allowed locations:
- Constructors (NewXxx, MustXxx) wiring the default clock
- main() and init() functions
- Test functions (TestXxx, BenchmarkXxx, ExampleXxx)
- Test helper functions (t.Helper())
- Lines with nowcheck:exempt comment

All other usages should go through the injected clock field.`

// run executes the analyzer.
func run(pass *analysis.Pass) (interface{}, error) {
	if !packageInjectsClock(pass) {
		return nil, nil
	}

	inspect := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)

	nodeFilter := []ast.Node{
		(*ast.FuncDecl)(nil),
		(*ast.CallExpr)(nil),
	}

	var currentFunc *ast.FuncDecl
	var inAllowedFunc bool

	inspect.Preorder(nodeFilter, func(n ast.Node) {
		switch node := n.(type) {
		case *ast.FuncDecl:
			currentFunc = node
			inAllowedFunc = isAllowedFunction(pass, node)

		case *ast.CallExpr:
			if isTimeNow(node) {
				if !inAllowedFunc && !hasExemptionComment(pass, node.Pos()) {
					funcName := "unknown"
					if currentFunc != nil && currentFunc.Name != nil {
						funcName = currentFunc.Name.Name
					}
					pass.Reportf(node.Pos(),
						"time.Now() used in %s; use the injected clock instead or add nowcheck:exempt comment",
						funcName)
				}
			}
		}
	})

	return nil, nil
}

// packageInjectsClock reports whether any struct in the package declares a
// 'now func() time.Time' field, the injected-clock convention.
func packageInjectsClock(pass *analysis.Pass) bool {
	for _, f := range pass.Files {
		// Declarations in test files do not make the package clock-injected.
		if strings.HasSuffix(pass.Fset.File(f.Pos()).Name(), "_test.go") {
			continue
		}
		found := false
		ast.Inspect(f, func(n ast.Node) bool {
			structType, ok := n.(*ast.StructType)
			if !ok {
				return true
			}
			for _, field := range structType.Fields.List {
				if isClockField(field) {
					found = true
					return false
				}
			}
			return true
		})
		if found {
			return true
		}
	}
	return false
}

// isClockField matches a field named 'now' with type func() time.Time.
func isClockField(field *ast.Field) bool {
	named := false
	for _, name := range field.Names {
		if name.Name == "now" {
			named = true
			break
		}
	}
	if !named {
		return false
	}

	funcType, ok := field.Type.(*ast.FuncType)
	if !ok {
		return false
	}
	if funcType.Params != nil && len(funcType.Params.List) > 0 {
		return false
	}
	if funcType.Results == nil || len(funcType.Results.List) != 1 {
		return false
	}
	sel, ok := funcType.Results.List[0].Type.(*ast.SelectorExpr)
	if !ok {
		return false
	}
	ident, ok := sel.X.(*ast.Ident)
	if !ok {
		return false
	}
	return ident.Name == "time" && sel.Sel.Name == "Time"
}

// isTimeNow checks if the call expression is time.Now().
func isTimeNow(call *ast.CallExpr) bool {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok {
		return false
	}

	ident, ok := sel.X.(*ast.Ident)
	if !ok {
		return false
	}

	return ident.Name == "time" && sel.Sel.Name == "Now"
}

// isAllowedFunction determines if the function is an approved location for time.Now().
func isAllowedFunction(pass *analysis.Pass, fn *ast.FuncDecl) bool {
	if fn == nil || fn.Name == nil {
		return false
	}

	name := fn.Name.Name

	// Constructors wire the default clock.
	if strings.HasPrefix(name, "New") && len(name) > 3 {
		return true
	}
	if strings.HasPrefix(name, "Must") && len(name) > 4 {
		return true
	}

	// main() in main package
	if name == "main" && pass.Pkg.Name() == "main" {
		return true
	}

	// init() functions
	if name == "init" {
		return true
	}

	// Test functions: TestXxx, BenchmarkXxx, ExampleXxx
	if strings.HasPrefix(name, "Test") && len(name) > 4 {
		return true
	}
	if strings.HasPrefix(name, "Benchmark") && len(name) > 9 {
		return true
	}
	if strings.HasPrefix(name, "Example") {
		return true
	}

	// Test setup/helper functions in test files
	if strings.HasSuffix(pass.Fset.File(fn.Pos()).Name(), "_test.go") {
		if hasTestHelper(fn) {
			return true
		}
		if isTestSetupFunction(name) {
			return true
		}
	}

	return false
}

// hasTestHelper checks if function body contains t.Helper() call.
func hasTestHelper(fn *ast.FuncDecl) bool {
	if fn.Body == nil {
		return false
	}

	for _, stmt := range fn.Body.List {
		exprStmt, ok := stmt.(*ast.ExprStmt)
		if !ok {
			continue
		}
		call, ok := exprStmt.X.(*ast.CallExpr)
		if !ok {
			continue
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok {
			continue
		}
		if sel.Sel.Name == "Helper" {
			return true
		}
	}
	return false
}

// isTestSetupFunction checks if function name matches common test setup patterns.
func isTestSetupFunction(name string) bool {
	lowerName := strings.ToLower(name)
	setupPatterns := []string{
		"setup",
		"teardown",
		"testmain",
		"newtest",
		"createtest",
		"mock",
		"fixture",
		"helper",
	}

	for _, pattern := range setupPatterns {
		if strings.Contains(lowerName, pattern) {
			return true
		}
	}
	return false
}

// hasExemptionComment checks if the line has an exemption comment.
func hasExemptionComment(pass *analysis.Pass, pos token.Pos) bool {
	file := pass.Fset.File(pos)
	if file == nil {
		return false
	}

	line := file.Line(pos)
	filename := file.Name()

	// Find the correct AST file for this position
	for _, f := range pass.Files {
		astFilename := pass.Fset.File(f.Pos()).Name()
		if astFilename != filename {
			continue
		}

		// Check all comments in the file
		for _, cg := range f.Comments {
			for _, c := range cg.List {
				commentLine := file.Line(c.Pos())
				// Check same line or line above
				if commentLine == line || commentLine == line-1 {
					if strings.Contains(c.Text, ExemptionComment) {
						return true
					}
				}
			}
		}
		break
	}

	return false
}
