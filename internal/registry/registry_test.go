package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeOutbound struct {
	accept bool
	got    []any
}

func (f *fakeOutbound) Enqueue(msg any) bool {
	if !f.accept {
		return false
	}
	f.got = append(f.got, msg)
	return true
}

func TestRegisterBroadcastUnregister(t *testing.T) {
	r := New(zap.NewNop())

	idA := r.NextID()
	idB := r.NextID()
	require.NotEqual(t, idA, idB)

	outA := &fakeOutbound{accept: true}
	outB := &fakeOutbound{accept: true}
	r.Register(idA, "A", outA)
	r.Register(idB, "B", outB)
	require.Equal(t, 2, r.Count())

	n := r.Broadcast("hello")
	require.Equal(t, 2, n)
	require.Equal(t, []any{"hello"}, outA.got)
	require.Equal(t, []any{"hello"}, outB.got)

	r.Unregister(idA)
	require.Equal(t, 1, r.Count())
	require.ElementsMatch(t, []string{"B"}, r.SnapshotNames())
}

func TestBroadcastCountsOnlySuccessfulEnqueues(t *testing.T) {
	r := New(zap.NewNop())

	ok := &fakeOutbound{accept: true}
	gone := &fakeOutbound{accept: false}
	r.Register(r.NextID(), "ok", ok)
	r.Register(r.NextID(), "gone", gone)

	n := r.Broadcast("x")
	require.Equal(t, 1, n)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := New(zap.NewNop())
	r.Unregister(999)
	require.Equal(t, 0, r.Count())
}
