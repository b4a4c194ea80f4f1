package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanfleet/telemetry-core/pkg/model"
)

type stubStore struct {
	promoted []model.Task
	failOn   string
	swept    int
}

func (s *stubStore) PromoteTask(ctx context.Context, database string, t model.Task) error {
	if t.TaskID == s.failOn {
		return errors.New("boom")
	}
	s.promoted = append(s.promoted, t)
	return nil
}

func (s *stubStore) SweepOngoingTasks(ctx context.Context, database string, knownSerials map[string]bool, maxAge time.Duration) (int, error) {
	return s.swept, nil
}

func TestManager_ApplyBatch_PromotesEveryTask(t *testing.T) {
	store := &stubStore{}
	m := New(store)
	errs := m.ApplyBatch(context.Background(), "db1", []model.Task{
		{TaskID: "t1"}, {TaskID: "t2"},
	})
	assert.Empty(t, errs)
	assert.Len(t, store.promoted, 2)
}

func TestManager_ApplyBatch_CollectsErrorsWithoutAbortingSiblings(t *testing.T) {
	store := &stubStore{failOn: "t1"}
	m := New(store)
	errs := m.ApplyBatch(context.Background(), "db1", []model.Task{
		{TaskID: "t1"}, {TaskID: "t2"},
	})
	require.Len(t, errs, 1)
	assert.Len(t, store.promoted, 1)
	assert.Equal(t, "t2", store.promoted[0].TaskID)
}

func TestManager_Sweep_DelegatesToStore(t *testing.T) {
	store := &stubStore{swept: 3}
	m := New(store)
	n, err := m.Sweep(context.Background(), "db1", map[string]bool{"R1": true})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
