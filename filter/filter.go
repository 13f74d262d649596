// Package filter provides flow filter expressions using expr-lang/expr.
// Filters run against projected flow rows in the host language, so the
// query surface stays side-effect-free.
package filter

import (
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/flowstash/flowstash/pkg/query"
)

// FlowEnv exposes the flow table columns to filter expressions, e.g.
//
//	method == "GET" && status >= 400
//	host contains "example.com" && size > 1024
type FlowEnv struct {
	MID         string  `expr:"mid"`
	Method      string  `expr:"method"`
	Host        string  `expr:"host"`
	Path        string  `expr:"path"`
	Status      int     `expr:"status"`
	ContentType string  `expr:"content_type"`
	Size        int64   `expr:"size"`
	Duration    float64 `expr:"duration"`
}

// Compile compiles a filter expression into a predicate over flow rows.
func Compile(filterStr string) (func(*query.FlowRow) bool, error) {
	program, err := expr.Compile(filterStr, expr.Env(FlowEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile filter '%s': %w", filterStr, err)
	}

	return func(f *query.FlowRow) bool {
		result, err := expr.Run(program, rowToEnv(f))
		if err != nil {
			return false
		}
		if b, ok := result.(bool); ok {
			return b
		}
		return false
	}, nil
}

// rowToEnv flattens a flow row for evaluation. Absent status and
// duration evaluate as zero.
func rowToEnv(f *query.FlowRow) FlowEnv {
	env := FlowEnv{
		MID:         f.MID,
		Method:      f.Method,
		Host:        f.Host,
		Path:        f.Path,
		ContentType: f.ContentType,
		Size:        f.Size,
	}
	if f.StatusCode != nil {
		env.Status = *f.StatusCode
	}
	if f.Duration != nil {
		env.Duration = *f.Duration
	}
	return env
}
