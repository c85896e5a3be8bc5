// Package dryrun implements DryRunValidator: pre-flight
// and result validation ensuring a dry-run booking attempt never issues the
// final commit action. The dryRun toggle is evaluated at the narrowest
// point, immediately before the commit click, and never wired globally,
// so a refactor cannot accidentally bypass it.
package dryrun

import (
	"fmt"

	"github.com/trytofly94/squash-booker/internal/bookingerr"
)

// PreflightInput is the state DryRunValidator checks before a commit is
// attempted.
type PreflightInput struct {
	DryRun          bool
	CourtID         string
	Slot1StartTime  string
	Slot2StartTime  string
	CommitSelectors []string
}

// Validator implements DryRunValidator.
type Validator struct{}

// New constructs a Validator.
func New() *Validator { return &Validator{} }

// ValidatePreflight rejects an attempt missing the data a commit requires,
// regardless of dryRun — a booking with no court or selectors resolved is
// never safe to act on.
func (v *Validator) ValidatePreflight(in PreflightInput) error {
	if in.CourtID == "" {
		return bookingerr.New(bookingerr.KindValidation, "dryrun", "missing courtId before commit", nil)
	}
	if in.Slot1StartTime == "" || in.Slot2StartTime == "" {
		return bookingerr.New(bookingerr.KindValidation, "dryrun", "missing slot start times before commit", nil)
	}
	if len(in.CommitSelectors) == 0 {
		return bookingerr.New(bookingerr.KindValidation, "dryrun", "no commit selector resolved", nil)
	}
	return nil
}

// CommitGuard gates the actual commit click. Call sites must invoke this
// immediately before the click and skip it when shouldCommit is false —
// there is no other toggle point.
func (v *Validator) CommitGuard(dryRun bool) (shouldCommit bool) {
	return !dryRun
}

// ValidateSyntheticResult checks that a dry-run's synthesized confirmation
// carries the required additionalData.dryRun=true marker, guarding
// against a refactor that forgets to tag it.
func (v *Validator) ValidateSyntheticResult(additionalData map[string]any) error {
	flag, ok := additionalData["dryRun"]
	if !ok || flag != true {
		return fmt.Errorf("dryrun: synthetic result missing additionalData.dryRun=true marker")
	}
	return nil
}
