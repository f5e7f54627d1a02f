// Command nowcheck runs the injected-clock static analysis checker.
//
// Usage:
//
//	go build -o nowcheck ./tools/nowcheck/cmd/nowcheck
//	nowcheck ./...
//
// Or with go vet:
//
//	go vet -vettool=$(which nowcheck) ./...
//
// The tool flags time.Now() calls in clock-injected packages outside of
// approved locations:
//   - Constructors (NewXxx, MustXxx)
//   - main() and init() functions
//   - Test functions (TestXxx, BenchmarkXxx, ExampleXxx)
//   - Test helper functions
//   - Lines with nowcheck:exempt comment
package main

import (
	"warden/tools/nowcheck"

	"golang.org/x/tools/go/analysis/singlechecker"
)

func main() {
	singlechecker.Main(nowcheck.Analyzer)
}
