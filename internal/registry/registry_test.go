package registry

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modulehub/orchestrator/internal/clock"
	"github.com/modulehub/orchestrator/internal/orcherr"
)

func newTestRegistry(t *testing.T) (*Registry, *clock.FakeClock) {
	t.Helper()
	fc := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	model := clock.New(fc, time.UTC, false)
	log := slog.New(slog.NewTextHandler(discard{}, nil))
	return New(model, log), fc
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestRegister_AssignsDenseIDs(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)

	m1, err := r.Register("a", "", "h1", nil, nil)
	require.NoError(t, err)
	m2, err := r.Register("b", "", "h2", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(1), m1.ID)
	assert.Equal(t, int64(2), m2.ID)
}

func TestRegister_DuplicateHash(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)

	_, err := r.Register("a", "desc", "model", nil, nil)
	require.NoError(t, err)

	_, err = r.Register("a", "desc", "model", nil, nil)
	require.ErrorIs(t, err, orcherr.ErrAlreadyRegistered)
}

func TestRegister_EmptyName(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)

	_, err := r.Register("", "desc", "model", nil, nil)
	require.ErrorIs(t, err, orcherr.ErrInvalidModule)
}

func TestBindSession_ConflictOnSecondBind(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)

	m, err := r.Register("a", "", "h", nil, nil)
	require.NoError(t, err)

	_, err = r.BindSession(m.Hash, "session-1")
	require.NoError(t, err)

	_, err = r.BindSession(m.Hash, "session-2")
	require.ErrorIs(t, err, orcherr.ErrConflict)
}

func TestBindSession_UnknownHash(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)

	_, err := r.BindSession("no-such-hash", "session-1")
	require.ErrorIs(t, err, orcherr.ErrNotFound)
}

func TestUnbindThenRebind(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)

	m, err := r.Register("a", "", "h", nil, nil)
	require.NoError(t, err)

	_, err = r.BindSession(m.Hash, "session-1")
	require.NoError(t, err)

	r.Unbind("session-1")

	bound, err := r.BindSession(m.Hash, "session-2")
	require.NoError(t, err)
	assert.True(t, bound.Alive)
}

func TestReapStale(t *testing.T) {
	t.Parallel()
	r, fc := newTestRegistry(t)

	m, err := r.Register("a", "", "h", nil, nil)
	require.NoError(t, err)
	_, err = r.BindSession(m.Hash, "session-1")
	require.NoError(t, err)

	fc.Advance(5 * time.Minute)
	threshold := fc.Now().Add(-1 * time.Minute)

	reaped := r.ReapStale(threshold)
	require.Len(t, reaped, 1)
	assert.Equal(t, m.ID, reaped[0].ID)

	_, err = r.LookupBySession("session-1")
	require.ErrorIs(t, err, orcherr.ErrNotFound)
}

func TestLookupByName_TieBreakFirstInserted(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t)

	first, err := r.Register("dup", "d1", "m1", nil, nil)
	require.NoError(t, err)
	_, err = r.Register("dup", "d2", "m2", nil, nil)
	require.NoError(t, err)

	found, err := r.LookupByName("dup")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
}
