package mediator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLatestCancelsPriorFlight(t *testing.T) {
	l := NewLatest()

	ctx1, done1 := l.Start(context.Background(), "remediate:7")
	defer done1()

	require.NoError(t, ctx1.Err())

	ctx2, done2 := l.Start(context.Background(), "remediate:7")
	defer done2()

	require.ErrorIs(t, ctx1.Err(), context.Canceled)
	require.NoError(t, ctx2.Err())
}

func TestLatestKeysAreIndependent(t *testing.T) {
	l := NewLatest()

	ctx1, done1 := l.Start(context.Background(), "remediate:7")
	defer done1()
	ctx2, done2 := l.Start(context.Background(), "remediate:8")
	defer done2()

	require.NoError(t, ctx1.Err())
	require.NoError(t, ctx2.Err())
}

func TestLatestDoneReleasesOnlyCurrent(t *testing.T) {
	l := NewLatest()

	_, done1 := l.Start(context.Background(), "k")
	ctx2, done2 := l.Start(context.Background(), "k")

	// Finishing the superseded flight must not evict the current one.
	done1()
	require.NoError(t, ctx2.Err())

	done2()
	ctx3, done3 := l.Start(context.Background(), "k")
	defer done3()
	require.NoError(t, ctx3.Err())
}

func TestSuperseded(t *testing.T) {
	require.True(t, Superseded(context.Canceled))
	require.True(t, Superseded(errors.Join(errors.New("wrapped"), context.Canceled)))
	require.False(t, Superseded(errors.New("provider down")))
	require.False(t, Superseded(context.DeadlineExceeded))
}
