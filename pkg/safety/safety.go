// Package safety implements the write-permission gate every write
// operation in pkg/actions must pass before touching the device (C8 in
// SPEC_FULL.md). Grounded on
// original_source/main/src/baofeng_logo_flasher/core/safety.py's
// SafetyContext and require_write_permission.
package safety

import (
	"strings"

	"github.com/bf-radio-tools/flashcore/pkg/radioerr"
)

// PromptFunc asks the operator to confirm a write interactively (e.g. a
// CLI "type WRITE to confirm" prompt) and returns what they typed.
type PromptFunc func(message string) string

// Context carries everything RequireWritePermission needs to decide
// whether a write may proceed.
type Context struct {
	Simulate          bool
	WriteEnabled      bool
	Model             string
	RegionKnown       bool
	TargetRegion      string
	ConfirmationToken string
	Interactive       bool
	Prompt            PromptFunc
}

// NewCLIContext mirrors create_cli_safety_context: writes are gated on an
// explicit confirmation token or an interactive prompt, never silently
// allowed.
func NewCLIContext(writeEnabled bool, model, targetRegion, confirmationToken string, prompt PromptFunc) Context {
	return Context{
		WriteEnabled:      writeEnabled,
		Model:             model,
		RegionKnown:       targetRegion != "",
		TargetRegion:      targetRegion,
		ConfirmationToken: confirmationToken,
		Interactive:       prompt != nil,
		Prompt:            prompt,
	}
}

// NewDashboardContext mirrors create_streamlit_safety_context: a web
// dashboard has no interactive terminal prompt, so it must always supply
// an explicit confirmation token.
func NewDashboardContext(writeEnabled bool, model, targetRegion, confirmationToken string) Context {
	return Context{
		WriteEnabled:      writeEnabled,
		Model:             model,
		RegionKnown:       targetRegion != "",
		TargetRegion:      targetRegion,
		ConfirmationToken: confirmationToken,
		Interactive:       false,
	}
}

const confirmWord = "WRITE"

func normalizedMatch(token string) bool {
	return strings.EqualFold(strings.TrimSpace(token), confirmWord)
}

// RequireWritePermission applies the seven-rule gate, in order:
//  1. Simulation mode always allows (nothing touches the device).
//  2. Writes must be explicitly enabled.
//  3. The model must be identified (not empty or "unknown").
//  4. If the region isn't known from the model registry, an explicit
//     target region must be given.
//  5. An explicit confirmation token equal to "WRITE" (case/space
//     insensitive) is accepted without prompting.
//  6. Otherwise, in an interactive context, the operator is prompted and
//     must type "WRITE".
//  7. Any other case is denied.
func RequireWritePermission(ctx Context) error {
	if ctx.Simulate {
		return nil
	}
	if !ctx.WriteEnabled {
		return radioerr.New(radioerr.KindUnsafe, "writes are not enabled",
			"pass the write-enable flag to allow this operation to touch the device")
	}
	if ctx.Model == "" || strings.EqualFold(ctx.Model, "unknown") {
		return radioerr.New(radioerr.KindUnsafe, "radio model is not identified",
			"identify the radio before writing, or specify the model explicitly")
	}
	if !ctx.RegionKnown && ctx.TargetRegion == "" {
		return radioerr.New(radioerr.KindUnsafe, "target region is not known",
			"specify an explicit target offset or region name")
	}
	if ctx.ConfirmationToken != "" {
		if normalizedMatch(ctx.ConfirmationToken) {
			return nil
		}
		return radioerr.New(radioerr.KindUnsafe, "confirmation token did not match",
			"the confirmation token must be exactly WRITE")
	}
	if ctx.Interactive && ctx.Prompt != nil {
		answer := ctx.Prompt("Type WRITE to confirm this operation will modify the device: ")
		if normalizedMatch(answer) {
			return nil
		}
		return radioerr.New(radioerr.KindUnsafe, "write not confirmed", "")
	}
	return radioerr.New(radioerr.KindUnsafe, "no confirmation available for this write",
		"run interactively or supply an explicit confirmation token")
}
