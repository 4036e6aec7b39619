// Package result defines the uniform outcome record every workflow action
// in pkg/actions returns, mirroring core/results.py's OperationResult: CLI
// and dashboard consumers render the same structure regardless of which
// protocol ran underneath.
package result

import "fmt"

// OperationResult is the outcome of a single workflow action. Workflow
// actions never panic for protocol-expected failures; they set Ok=false
// and populate Errors instead, so callers can always inspect a result
// rather than recover from a panic.
type OperationResult struct {
	Ok        bool
	Operation string
	Model     string
	Region    string
	BytesLen  int
	Hashes    map[string]string
	Warnings  []string
	Errors    []string
	Metadata  map[string]any
	Logs      []string
}

// New creates a zero-value result for the given operation name, ready to
// have fields filled in before returning it from an action.
func New(operation string) *OperationResult {
	return &OperationResult{
		Operation: operation,
		Hashes:    map[string]string{},
		Metadata:  map[string]any{},
	}
}

// Success builds an OperationResult already marked Ok.
func Success(operation, model, region string, bytesLen int) *OperationResult {
	r := New(operation)
	r.Ok = true
	r.Model = model
	r.Region = region
	r.BytesLen = bytesLen
	return r
}

// Failure builds an OperationResult already marked failed with one error.
func Failure(operation, errMsg string) *OperationResult {
	r := New(operation)
	r.Ok = false
	r.Errors = append(r.Errors, errMsg)
	return r
}

func (r *OperationResult) AddWarning(msg string) { r.Warnings = append(r.Warnings, msg) }

// AddError appends an error message and marks the result failed -- once
// marked false it never flips back to true, matching core/results.py's
// add_error semantics.
func (r *OperationResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Ok = false
}

func (r *OperationResult) AddLog(msg string) { r.Logs = append(r.Logs, msg) }

// Summary renders a short human-readable report, used by the minimal
// cmd/radioflash entry point in place of a full CLI's formatted output.
func (r *OperationResult) Summary() string {
	status := "FAILED"
	if r.Ok {
		status = "SUCCESS"
	}
	s := fmt.Sprintf("[%s] %s", status, r.Operation)
	if r.Model != "" {
		s += fmt.Sprintf("\n  model: %s", r.Model)
	}
	if r.Region != "" {
		s += fmt.Sprintf("\n  region: %s", r.Region)
	}
	if r.BytesLen != 0 {
		s += fmt.Sprintf("\n  bytes: %d", r.BytesLen)
	}
	for _, w := range r.Warnings {
		s += fmt.Sprintf("\n  warning: %s", w)
	}
	for _, e := range r.Errors {
		s += fmt.Sprintf("\n  error: %s", e)
	}
	return s
}
