// Package cnerr defines the typed error sentinels the computation-graph
// core distinguishes, replacing the source's fatal FATAL(...) macros with
// plain returned errors callers can test with errors.Is.
package cnerr

import "errors"

var (
	// ErrConfig marks malformed JSON, an unknown layer kind or a missing
	// required option. Fatal at load time.
	ErrConfig = errors.New("config error")

	// ErrShape marks a create_outputs/connect rejection. Fatal at graph
	// initialization.
	ErrShape = errors.New("shape error")

	// ErrWiring marks a DAG missing an input/output, a cycle, or a
	// reference to an undefined node. Fatal.
	ErrWiring = errors.New("wiring error")

	// ErrIO marks a file-not-found, truncated stream, or bad magic marker.
	// Fatal for the operation, not for the process.
	ErrIO = errors.New("io error")

	// ErrNumeric marks NaN/Inf detected during a verbose forward pass.
	// Recorded as a warning; training continues.
	ErrNumeric = errors.New("numeric error")

	// ErrState marks an operation attempted without its preconditions,
	// e.g. train without a network.
	ErrState = errors.New("state error")

	// ErrGradientCheck marks an analytic gradient deviating from its
	// finite-difference counterpart beyond tolerance. Test-suite only.
	ErrGradientCheck = errors.New("gradient check error")
)
