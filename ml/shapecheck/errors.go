package shapecheck

import (
	"fmt"
	"strings"

	"github.com/gomlx/svscheck/types/shapes"
)

// ConstructionError is returned when the model (or its companion discriminator) cannot be built
// from a configuration that passed validation.
type ConstructionError struct {
	// Source of the configuration, usually the file path.
	Source string

	// Network that failed: "netG" or "netD".
	Network string

	// Target is the `_target_` of the network that failed to build.
	Target string

	Err error
}

// Error implements the error interface.
func (e *ConstructionError) Error() string {
	return fmt.Sprintf("config %q: failed to construct %s (%s): %v", e.Source, e.Network, e.Target, e.Err)
}

// Unwrap returns the underlying constructor error.
func (e *ConstructionError) Unwrap() error { return e.Err }

// Names of the passes run by the checker.
const (
	PassForward   = "forward"
	PassInference = "inference"
)

// ContractViolation is returned when a model output doesn't follow the shape contract of its category.
//
// It identifies the pass and the output that disagreed and, for shape mismatches, the first
// axis that disagreed.
type ContractViolation struct {
	// Source of the configuration, usually the file path.
	Source string

	// Pass is PassForward or PassInference.
	Pass string

	// Output names the offending output: e.g. "y", "mu", "log_sigma", "log_pi", "sigma",
	// "lf0_residual". It is "input" if the pass itself failed on the synthetic input.
	Output string

	// Axis is the first axis that disagreed, or -1 for rank, arity or structure mismatches.
	Axis int

	// Expected and Actual describe the expected and observed structure or shape.
	Expected, Actual string

	// Reason is a human readable description of the mismatch.
	Reason string

	// Err is the error returned by the pass, if it failed.
	Err error
}

// Error implements the error interface.
func (v *ContractViolation) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "config %q: %s pass, output %s: %s", v.Source, v.Pass, v.Output, v.Reason)
	if v.Expected != "" || v.Actual != "" {
		fmt.Fprintf(&sb, " (expected %s, got %s", v.Expected, v.Actual)
		if v.Axis >= 0 {
			fmt.Fprintf(&sb, ", axis %d", v.Axis)
		}
		sb.WriteString(")")
	}
	if v.Err != nil {
		fmt.Fprintf(&sb, ": %v", v.Err)
	}
	return sb.String()
}

// Unwrap returns the error of the failed pass, if any.
func (v *ContractViolation) Unwrap() error { return v.Err }

// checkOutputDims returns a *ContractViolation if shape doesn't match dims.
// Use shapes.UncheckedAxis for axes that are not checked.
func checkOutputDims(source, pass, output string, shape shapes.Shape, dims ...int) error {
	axis, ok := shape.DiffDims(dims...)
	if ok {
		return nil
	}
	reason := "shape mismatch"
	if axis < 0 {
		reason = "rank mismatch"
	}
	return &ContractViolation{
		Source: source, Pass: pass, Output: output, Axis: axis,
		Expected: shapes.DimsString(dims...), Actual: shape.String(),
		Reason: reason,
	}
}
