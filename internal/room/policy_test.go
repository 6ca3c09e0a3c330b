package room

import (
	"testing"

	"github.com/ovmeet/control-plane/internal/persistence"
	"github.com/stretchr/testify/assert"
)

func TestEvaluateDeletion_DoNotDeleteRefusesIfActiveOrRecordings(t *testing.T) {
	policy := persistence.AutoDeletionPolicy{WithMeeting: persistence.PolicyDoNotDelete, WithRecordings: persistence.PolicyDoNotDelete}

	assert.Equal(t, outcomeRefuse, evaluateDeletion(policy, true, false).outcome)
	assert.Equal(t, outcomeRefuse, evaluateDeletion(policy, false, true).outcome)

	plan := evaluateDeletion(policy, false, false)
	assert.Equal(t, outcomeDelete, plan.outcome)
	assert.False(t, plan.terminateFirst)
	assert.False(t, plan.purgeRecordings)
}

func TestEvaluateDeletion_DoNotDeleteWithForceRecordingsRefusesIfActive(t *testing.T) {
	policy := persistence.AutoDeletionPolicy{WithMeeting: persistence.PolicyDoNotDelete, WithRecordings: persistence.PolicyForce}

	assert.Equal(t, outcomeRefuse, evaluateDeletion(policy, true, true).outcome)

	plan := evaluateDeletion(policy, false, true)
	assert.Equal(t, outcomeDelete, plan.outcome)
	assert.True(t, plan.purgeRecordings)
	assert.False(t, plan.terminateFirst)
}

func TestEvaluateDeletion_WhenMeetingEndsDefersWhileActive(t *testing.T) {
	policy := persistence.AutoDeletionPolicy{WithMeeting: persistence.PolicyWhenMeetingEnds, WithRecordings: persistence.PolicyDoNotDelete}

	assert.Equal(t, outcomeDefer, evaluateDeletion(policy, true, false).outcome)

	plan := evaluateDeletion(policy, false, false)
	assert.Equal(t, outcomeDelete, plan.outcome)
}

func TestEvaluateDeletion_WhenMeetingEndsAndWhenNoRecordingsBothGate(t *testing.T) {
	policy := persistence.AutoDeletionPolicy{WithMeeting: persistence.PolicyWhenMeetingEnds, WithRecordings: persistence.PolicyWhenNoRecordings}

	assert.Equal(t, outcomeDefer, evaluateDeletion(policy, true, true).outcome, "active meeting gates first")
	assert.Equal(t, outcomeDefer, evaluateDeletion(policy, false, true).outcome, "recordings still present gates after meeting ends")

	plan := evaluateDeletion(policy, false, false)
	assert.Equal(t, outcomeDelete, plan.outcome)
	assert.False(t, plan.purgeRecordings)
}

func TestEvaluateDeletion_ForceTerminatesMeetingAndPurgesRecordings(t *testing.T) {
	policy := persistence.AutoDeletionPolicy{WithMeeting: persistence.PolicyForce, WithRecordings: persistence.PolicyForce}

	plan := evaluateDeletion(policy, true, true)
	assert.Equal(t, outcomeDelete, plan.outcome)
	assert.True(t, plan.terminateFirst)
	assert.True(t, plan.purgeRecordings)
}

func TestEvaluateDeletion_ForceMeetingWithDoNotDeleteRecordingsStillRefusesOnRecordings(t *testing.T) {
	policy := persistence.AutoDeletionPolicy{WithMeeting: persistence.PolicyForce, WithRecordings: persistence.PolicyDoNotDelete}

	assert.Equal(t, outcomeRefuse, evaluateDeletion(policy, true, true).outcome)

	plan := evaluateDeletion(policy, true, false)
	assert.Equal(t, outcomeDelete, plan.outcome)
	assert.True(t, plan.terminateFirst)
}

func TestEvaluateDeletion_ForceMeetingWithWhenNoRecordingsDeletesOnlyIfNoRecordings(t *testing.T) {
	policy := persistence.AutoDeletionPolicy{WithMeeting: persistence.PolicyForce, WithRecordings: persistence.PolicyWhenNoRecordings}

	assert.Equal(t, outcomeDefer, evaluateDeletion(policy, true, true).outcome)

	plan := evaluateDeletion(policy, true, false)
	assert.Equal(t, outcomeDelete, plan.outcome)
	assert.True(t, plan.terminateFirst)
	assert.False(t, plan.purgeRecordings)
}
