package dryrun_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trytofly94/squash-booker/internal/bookingerr"
	"github.com/trytofly94/squash-booker/internal/dryrun"
)

func TestValidatePreflight_RejectsMissingCourt(t *testing.T) {
	v := dryrun.New()
	err := v.ValidatePreflight(dryrun.PreflightInput{Slot1StartTime: "14:00", Slot2StartTime: "14:30", CommitSelectors: []string{"x"}})
	assert.Error(t, err)
	assert.Equal(t, bookingerr.KindValidation, bookingerr.KindOf(err))
}

func TestValidatePreflight_RejectsMissingSelectors(t *testing.T) {
	v := dryrun.New()
	err := v.ValidatePreflight(dryrun.PreflightInput{CourtID: "1", Slot1StartTime: "14:00", Slot2StartTime: "14:30"})
	assert.Error(t, err)
}

func TestValidatePreflight_AcceptsCompleteInput(t *testing.T) {
	v := dryrun.New()
	err := v.ValidatePreflight(dryrun.PreflightInput{CourtID: "1", Slot1StartTime: "14:00", Slot2StartTime: "14:30", CommitSelectors: []string{"x"}})
	assert.NoError(t, err)
}

func TestCommitGuard_BlocksWhenDryRun(t *testing.T) {
	v := dryrun.New()
	assert.False(t, v.CommitGuard(true))
	assert.True(t, v.CommitGuard(false))
}

func TestValidateSyntheticResult_RequiresDryRunMarker(t *testing.T) {
	v := dryrun.New()
	assert.Error(t, v.ValidateSyntheticResult(map[string]any{}))
	assert.NoError(t, v.ValidateSyntheticResult(map[string]any{"dryRun": true}))
}
