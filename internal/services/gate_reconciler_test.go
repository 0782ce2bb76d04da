package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReconciler struct {
	calls atomic.Int32
	err   error
}

func (r *countingReconciler) Reconcile(context.Context) (ReconcileResult, error) {
	r.calls.Add(1)
	return ReconcileResult{Expired: 1}, r.err
}

func TestGateReconciler_RunOnce(t *testing.T) {
	target := &countingReconciler{}
	reconciler, err := NewGateReconciler(target, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reconciler.Shutdown() })

	reconciler.RunOnce(context.Background())
	assert.Equal(t, int32(1), target.calls.Load())

	target.err = errors.New("store down")
	reconciler.RunOnce(context.Background())
	assert.Equal(t, int32(2), target.calls.Load())
}

func TestGateReconciler_RunOnceSkipsAfterCancel(t *testing.T) {
	target := &countingReconciler{}
	reconciler, err := NewGateReconciler(target, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reconciler.Shutdown() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reconciler.RunOnce(ctx)
	assert.Zero(t, target.calls.Load())
}

func TestGateReconciler_StartRunsOnInterval(t *testing.T) {
	target := &countingReconciler{}
	reconciler, err := NewGateReconciler(target, 20*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reconciler.Shutdown() })

	require.NoError(t, reconciler.Start(context.Background()))
	assert.Eventually(t, func() bool { return target.calls.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}
