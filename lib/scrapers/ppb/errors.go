package ppb

import (
	"fmt"
	"strings"
	"time"
)

// Step names the workflow stage a failure happened in, callers log it
// for correlation.
type Step string

const (
	StepValidate Step = "validate"
	StepSearch   Step = "search"
	StepDetails  Step = "details"
	StepExtract  Step = "extract"
)

// InvalidFormatError means the identifier failed the register's format
// check. No network call was made.
type InvalidFormatError struct {
	Identifier string
	Register   Kind
	Expected   string
}

func (e *InvalidFormatError) Error() string {
	if e.Expected == "" {
		return fmt.Sprintf("invalid %s identifier %q", e.Register, e.Identifier)
	}
	return fmt.Sprintf(
		"invalid %s identifier %q, expected format %s",
		e.Register, e.Identifier, e.Expected,
	)
}

// NotFoundError means the registry answered and has no matching entry.
type NotFoundError struct {
	Identifier string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("license %q not found in registry", e.Identifier)
}

// NetworkError means retries against the portal were exhausted.
type NetworkError struct {
	Identifier string
	Step       Step
	Attempts   int
	Err        error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf(
		"failed to reach registry portal for %q (%s, %d attempts): %v",
		e.Identifier, e.Step, e.Attempts, e.Err,
	)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// UpstreamFormatError means the portal responded but the body did not
// contain the region we expected. Usually a portal markup change.
type UpstreamFormatError struct {
	Identifier string
	Step       Step
	Reason     string
}

func (e *UpstreamFormatError) Error() string {
	return fmt.Sprintf(
		"unrecognizable portal response for %q at %s: %s",
		e.Identifier, e.Step, e.Reason,
	)
}

// IncompleteDataError means extraction recovered some fields but not
// the mandatory set. Recovered is kept for diagnostics.
type IncompleteDataError struct {
	Identifier string
	Recovered  []string
	Missing    []string
}

func (e *IncompleteDataError) Error() string {
	return fmt.Sprintf(
		"incomplete record for %q, missing [%s], recovered [%s]",
		e.Identifier,
		strings.Join(e.Missing, ", "),
		strings.Join(e.Recovered, ", "),
	)
}

// TimeoutError means the per-call budget was exceeded. Session cookies
// survive for subsequent calls.
type TimeoutError struct {
	Identifier string
	Step       Step
	Budget     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf(
		"verification of %q exceeded the %s budget at %s",
		e.Identifier, e.Budget, e.Step,
	)
}
