// Package gate defines the quality gate contract consumed by the workflow
// engine and the content-addressed cache that stores gate verdicts.
package gate

import (
	"context"
	"strings"
)

// DefaultStrategy is assumed when a stage declares no gate strategy.
const DefaultStrategy = "default"

// Category buckets gates for retry budget accounting.
type Category string

const (
	CategorySecurity Category = "security"
	CategoryLint     Category = "lint"
	CategoryCompile  Category = "compile"
	CategoryTest     Category = "test"
	CategoryTDD      Category = "tdd"
	// CategoryGlobal covers gate-independent failures: stage timeouts and
	// agent errors that no specific gate can be blamed for.
	CategoryGlobal Category = "global"
)

// Categories returns every valid budget category.
func Categories() []Category {
	return []Category{
		CategorySecurity,
		CategoryLint,
		CategoryCompile,
		CategoryTest,
		CategoryTDD,
		CategoryGlobal,
	}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategorySecurity, CategoryLint, CategoryCompile, CategoryTest, CategoryTDD, CategoryGlobal:
		return true
	default:
		return false
	}
}

func (c Category) String() string {
	return string(c)
}

// Categorize maps a gate name to its budget category: exact match first, then
// the token before the first ':', '-', or '_' separator, so "lint:eslint" and
// "test_unit" land in lint and test. Unrecognized names fall to global.
func Categorize(gateName string) Category {
	if c := Category(gateName); c.Valid() && c != CategoryGlobal {
		return c
	}

	if idx := strings.IndexAny(gateName, ":-_"); idx > 0 {
		if c := Category(gateName[:idx]); c.Valid() && c != CategoryGlobal {
			return c
		}
	}

	return CategoryGlobal
}

// Result is a single gate verdict. Diagnostics are opaque to the engine and
// surfaced verbatim in run summaries and escalation records.
type Result struct {
	Passed      bool   `json:"passed"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

// Runner executes one named gate against a file set under a strategy.
// Implementations own any internal retries of the underlying check; the
// engine counts each call as exactly one attempt. A returned error means the
// gate could not be run at all and is treated as a failed attempt.
type Runner interface {
	Run(ctx context.Context, gateName string, files []string, strategy string) (*Result, error)
}
