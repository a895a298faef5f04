package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	calls []Payload
}

func (r *recordingNotifier) Notify(p Payload) bool {
	r.calls = append(r.calls, p)
	return true
}

func TestDedup_SuppressesWithinCooldown(t *testing.T) {
	t.Parallel()

	rec := &recordingNotifier{}
	d := NewDedup(rec, time.Hour)

	p := Payload{Kind: KindExecutionFailure, WorkflowID: 1, ModuleID: 2}
	assert.True(t, d.Notify(p))
	assert.True(t, d.Notify(p))

	require.Len(t, rec.calls, 1, "second call within cooldown should be suppressed from the wrapped notifier")
}

func TestDedup_ZeroCooldownNeverSuppresses(t *testing.T) {
	t.Parallel()

	rec := &recordingNotifier{}
	d := NewDedup(rec, 0)

	p := Payload{Kind: KindExecutionTimeout, WorkflowID: 1, ModuleID: 2}
	d.Notify(p)
	d.Notify(p)

	assert.Len(t, rec.calls, 2)
}

func TestDedup_DistinctKeysDoNotSuppress(t *testing.T) {
	t.Parallel()

	rec := &recordingNotifier{}
	d := NewDedup(rec, time.Hour)

	d.Notify(Payload{Kind: KindModuleNotFound, WorkflowID: 1, ModuleID: 2})
	d.Notify(Payload{Kind: KindModuleNotFound, WorkflowID: 1, ModuleID: 3})

	assert.Len(t, rec.calls, 2)
}
