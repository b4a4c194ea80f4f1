package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanfleet/telemetry-core/pkg/ferrors"
	"github.com/cleanfleet/telemetry-core/pkg/model"
)

func TestFromDocument_RoutesKnownSerial(t *testing.T) {
	r, err := FromDocument(Document{Databases: map[string][]string{
		"tenantA": {"R1", "R2"},
		"tenantB": {"R3"},
	}})
	require.NoError(t, err)

	db, err := r.Route("R1")
	require.NoError(t, err)
	assert.Equal(t, "tenantA", db)
}

func TestFromDocument_UnknownSerial(t *testing.T) {
	r, err := FromDocument(Document{Databases: map[string][]string{"tenantA": {"R1"}}})
	require.NoError(t, err)

	_, err = r.Route("R999")
	require.Error(t, err)
	assert.True(t, ferrors.Is(err, ferrors.KindUnknownSerial))
}

func TestFromDocument_DuplicateSerialAcrossTenantsIsFatal(t *testing.T) {
	_, err := FromDocument(Document{Databases: map[string][]string{
		"tenantA": {"R1"},
		"tenantB": {"R1"},
	}})
	require.Error(t, err)
}

func TestPartition_GroupsBySerialOwner(t *testing.T) {
	r, err := FromDocument(Document{Databases: map[string][]string{
		"tenantA": {"R1", "R2"},
		"tenantB": {"R3"},
	}})
	require.NoError(t, err)

	states := []model.RobotState{
		{Serial: "R1"}, {Serial: "R2"}, {Serial: "R3"}, {Serial: "R999"},
	}
	byDB, unknown := Partition(r, states, func(s model.RobotState) string { return s.Serial })

	assert.Len(t, byDB["tenantA"], 2)
	assert.Len(t, byDB["tenantB"], 1)
	require.Len(t, unknown, 1)
	assert.Equal(t, "R999", unknown[0].Serial)
}
