package nowcheck

import (
	"go/ast"
	"go/parser"
	"go/token"
	"testing"

	"golang.org/x/tools/go/analysis/analysistest"
)

// TestAnalyzer runs the analyzer against test data.
func TestAnalyzer(t *testing.T) {
	testdata := analysistest.TestData()
	analysistest.Run(t, testdata, Analyzer, "a")
}

// TestIsTimeNow tests the time.Now() detection logic.
func TestIsTimeNow(t *testing.T) {
	tests := []struct {
		name string
		code string
		want bool
		expr string
	}{
		{
			name: "time.Now() call",
			code: `package main
import "time"
func main() { t := time.Now() }`,
			want: true,
			expr: "time.Now()",
		},
		{
			name: "time.Since call",
			code: `package main
import "time"
func main() { d := time.Since(time.Time{}) }`,
			want: false,
			expr: "time.Since()",
		},
		{
			name: "other package Now func",
			code: `package main
type myclock struct{}
func (m myclock) Now() {}
func main() { var c myclock; c.Now() }`,
			want: false,
			expr: "myclock.Now()",
		},
		{
			name: "simple function call",
			code: `package main
func Now() {}
func main() { Now() }`,
			want: false,
			expr: "Now()",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fset := token.NewFileSet()
			f, err := parser.ParseFile(fset, "test.go", tt.code, 0)
			if err != nil {
				t.Fatalf("failed to parse: %v", err)
			}

			// Find the first CallExpr matching our target
			var found bool
			ast.Inspect(f, func(n ast.Node) bool {
				if call, ok := n.(*ast.CallExpr); ok {
					got := isTimeNow(call)
					if got == tt.want {
						found = true
						return false
					}
				}
				return true
			})

			if !found {
				t.Errorf("expected isTimeNow to return %v for %s", tt.want, tt.expr)
			}
		})
	}
}

// TestIsClockField tests detection of the injected-clock field convention.
func TestIsClockField(t *testing.T) {
	tests := []struct {
		name string
		code string
		want bool
	}{
		{
			name: "now func() time.Time field",
			code: `package foo
import "time"
type s struct {
	now func() time.Time
}`,
			want: true,
		},
		{
			name: "differently named clock field",
			code: `package foo
import "time"
type s struct {
	clock func() time.Time
}`,
			want: false,
		},
		{
			name: "now field with wrong signature",
			code: `package foo
import "time"
type s struct {
	now func(loc *time.Location) time.Time
}`,
			want: false,
		},
		{
			name: "now field with non-time result",
			code: `package foo
type s struct {
	now func() int64
}`,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fset := token.NewFileSet()
			f, err := parser.ParseFile(fset, "test.go", tt.code, 0)
			if err != nil {
				t.Fatalf("failed to parse: %v", err)
			}

			var got bool
			ast.Inspect(f, func(n ast.Node) bool {
				structType, ok := n.(*ast.StructType)
				if !ok {
					return true
				}
				for _, field := range structType.Fields.List {
					if isClockField(field) {
						got = true
					}
				}
				return true
			})

			if got != tt.want {
				t.Errorf("isClockField() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestIsTestSetupFunction tests detection of common test setup function patterns.
func TestIsTestSetupFunction(t *testing.T) {
	tests := []struct {
		name     string
		funcName string
		want     bool
	}{
		{"setup function", "setup", true},
		{"Setup function", "Setup", true},
		{"setupTest function", "setupTest", true},
		{"teardown function", "teardown", true},
		{"TearDown function", "TearDown", true},
		{"TestMain function", "TestMain", true},
		{"newTestServer", "newTestServer", true},
		{"createTestDB", "createTestDB", true},
		{"mockService", "mockService", true},
		{"MockStorage", "MockStorage", true},
		{"testFixture", "testFixture", true},
		{"helperFunc", "helperFunc", true},
		{"doWork function", "doWork", false},
		{"processEvent function", "processEvent", false},
		{"handleRequest function", "handleRequest", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isTestSetupFunction(tt.funcName)
			if got != tt.want {
				t.Errorf("isTestSetupFunction(%q) = %v, want %v", tt.funcName, got, tt.want)
			}
		})
	}
}

// TestHasTestHelper tests detection of t.Helper() calls.
func TestHasTestHelper(t *testing.T) {
	tests := []struct {
		name string
		code string
		want bool
	}{
		{
			name: "function with t.Helper",
			code: `package foo
import "testing"
func helper(t *testing.T) {
	t.Helper()
	// do stuff
}`,
			want: true,
		},
		{
			name: "function without t.Helper",
			code: `package foo
import "testing"
func notHelper(t *testing.T) {
	t.Log("something")
}`,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fset := token.NewFileSet()
			f, err := parser.ParseFile(fset, "test.go", tt.code, 0)
			if err != nil {
				t.Fatalf("failed to parse: %v", err)
			}

			// Find the function and check for Helper
			for _, decl := range f.Decls {
				if fn, ok := decl.(*ast.FuncDecl); ok {
					got := hasTestHelper(fn)
					if got != tt.want {
						t.Errorf("hasTestHelper() = %v, want %v", got, tt.want)
					}
					return
				}
			}
			t.Fatal("no function found in test code")
		})
	}
}

// TestExemptionComment tests the exemption comment detection.
func TestExemptionComment(t *testing.T) {
	t.Run("exemption comment syntax", func(t *testing.T) {
		validComments := []string{
			"// nowcheck:exempt reason=\"audit timestamp\"",
			"// nowcheck:exempt",
			"/* nowcheck:exempt */",
		}

		for _, comment := range validComments {
			if !findExemption(comment) {
				t.Errorf("expected %q to be recognized as exemption", comment)
			}
		}
	})

	t.Run("non-exemption comments", func(t *testing.T) {
		invalidComments := []string{
			"// some other comment",
			"// exempt from rule",
			"// nolint:nowcheck",
		}

		for _, comment := range invalidComments {
			if findExemption(comment) {
				t.Errorf("expected %q to NOT be recognized as exemption", comment)
			}
		}
	})
}

// findExemption is a helper to check if a string contains the exemption marker.
func findExemption(s string) bool {
	for i := 0; i <= len(s)-len(ExemptionComment); i++ {
		if s[i:i+len(ExemptionComment)] == ExemptionComment {
			return true
		}
	}
	return false
}
