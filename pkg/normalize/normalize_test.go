package normalize

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanfleet/telemetry-core/pkg/ferrors"
	"github.com/cleanfleet/telemetry-core/pkg/model"
	"github.com/cleanfleet/telemetry-core/pkg/routing"
)

func testNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	r, err := routing.FromDocument(routing.Document{Databases: map[string][]string{
		"tenantA": {"R1"},
	}})
	require.NoError(t, err)
	return New(r)
}

// An unknown serial is not a Dropped: it carries ferrors.KindUnknownSerial
// straight through from routing.Resolver.Route so the webhook ingress can
// tell it apart from every other invariant violation and answer 404
// instead of 400 (spec.md Scenario 5).
func TestNormalizer_RobotState_UnknownSerialClassifiedNotDropped(t *testing.T) {
	n := testNormalizer(t)
	_, err := n.RobotState(model.RobotState{Serial: "R999", Battery: 50})
	require.Error(t, err)
	assert.True(t, ferrors.Is(err, ferrors.KindUnknownSerial))
	var dropped Dropped
	assert.False(t, errors.As(err, &dropped))
}

func TestNormalizer_RobotState_DropsOutOfRangeBattery(t *testing.T) {
	n := testNormalizer(t)
	_, err := n.RobotState(model.RobotState{Serial: "R1", Battery: 150})
	require.Error(t, err)
}

func TestNormalizer_RobotState_AcceptsValid(t *testing.T) {
	n := testNormalizer(t)
	s, err := n.RobotState(model.RobotState{Serial: "R1", Battery: 80})
	require.NoError(t, err)
	assert.Equal(t, 80, s.Battery)
}

func TestNormalizer_Task_DropsMissingKeyComponents(t *testing.T) {
	n := testNormalizer(t)
	_, err := n.Task(model.Task{Serial: "R1"})
	require.Error(t, err)
}

func TestNormalizer_Location_DropsEmptyBuildingID(t *testing.T) {
	n := testNormalizer(t)
	_, err := n.Location(model.Location{})
	require.Error(t, err)
}
