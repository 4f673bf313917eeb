package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "harness.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertEventsAndCount(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	err := s.InsertEvents(now, []Event{
		{Session: 1, Kind: "turns.total", Value: "3"},
		{Session: 1, Kind: "cost.input_tokens", Value: "100"},
	})
	require.NoError(t, err)

	n, err := s.CountEvents(1)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestUpsertObservationReplacesNotDuplicates(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	err := s.UpsertObservation(7, now, 12.5, nil, map[string]any{"turns.total": float64(3)})
	require.NoError(t, err)

	obs, err := s.GetObservation(7)
	require.NoError(t, err)
	require.NotNil(t, obs)
	require.Equal(t, float64(3), obs.Data["turns.total"])

	err = s.UpsertObservation(7, now, 20.0, nil, map[string]any{"turns.total": float64(9)})
	require.NoError(t, err)

	obs2, err := s.GetObservation(7)
	require.NoError(t, err)
	require.Equal(t, float64(9), obs2.Data["turns.total"])
	require.Equal(t, 20.0, obs2.Duration)
}

func TestGetObservationMissingReturnsNil(t *testing.T) {
	s := openTestStore(t)
	obs, err := s.GetObservation(999)
	require.NoError(t, err)
	require.Nil(t, obs)
}

func TestImprovementRefAssignment(t *testing.T) {
	s := openTestStore(t)

	ref1, err := s.InsertImprovement("workflow", "first", nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "R1", ref1)

	ref2, err := s.InsertImprovement("cost", "second", nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "R2", ref2)
}

func TestImprovementDefaultStatusIsOpen(t *testing.T) {
	s := openTestStore(t)
	ref, err := s.InsertImprovement("workflow", "title", nil, nil, nil)
	require.NoError(t, err)

	list, err := s.ListImprovements(nil, nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, ref, list[0].Ref)
	require.Equal(t, "open", list[0].Status)
}

func TestResolveImprovementSetsResolvedTimestamp(t *testing.T) {
	s := openTestStore(t)
	ref, err := s.InsertImprovement("workflow", "title", nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, s.ResolveImprovement(ref, "promoted"))

	list, err := s.ListImprovements(nil, nil)
	require.NoError(t, err)
	require.Equal(t, "promoted", list[0].Status)
	require.NotNil(t, list[0].Resolved)
}

func TestResolveImprovementRejectsBadStatus(t *testing.T) {
	s := openTestStore(t)
	ref, err := s.InsertImprovement("workflow", "title", nil, nil, nil)
	require.NoError(t, err)
	require.Error(t, s.ResolveImprovement(ref, "open"))
}

func TestListImprovementsFiltersByStatus(t *testing.T) {
	s := openTestStore(t)
	r1, err := s.InsertImprovement("workflow", "one", nil, nil, nil)
	require.NoError(t, err)
	_, err = s.InsertImprovement("workflow", "two", nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.ResolveImprovement(r1, "dismissed"))

	open := "open"
	list, err := s.ListImprovements(&open, nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "two", list[0].Title)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harness.db")
	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	list, err := s2.ListImprovements(nil, nil)
	require.NoError(t, err)
	require.Empty(t, list)
}
