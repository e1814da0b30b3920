package transcript

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/fleetd/internal/natstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNATSStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewNATSStore(natstest.Connect(t), "threads_test")
		require.NoError(t, err)
		return s
	})
}

func TestNATSStore_SharedBucket(t *testing.T) {
	ctx := context.Background()
	nc := natstest.Connect(t)

	first, err := NewNATSStore(nc, "shared")
	require.NoError(t, err)
	second, err := NewNATSStore(nc, "shared")
	require.NoError(t, err)

	_, err = first.Create(ctx, "alert_Vehicle-123_1")
	require.NoError(t, err)
	_, err = first.Append(ctx, "alert_Vehicle-123_1", HumanTurn("System Alert: Check vehicle Vehicle-123."))
	require.NoError(t, err)
	_, err = second.Append(ctx, "alert_Vehicle-123_1", AgentTurn("on it"))
	require.NoError(t, err)

	th, err := first.Load(ctx, "alert_Vehicle-123_1")
	require.NoError(t, err)
	require.Len(t, th.Turns, 2)
	assert.Equal(t, 2, th.Turns[1].Seq)
	assert.Equal(t, "on it", th.Turns[1].Content)
}

func TestNewNATSStore_RequiresConnection(t *testing.T) {
	_, err := NewNATSStore(nil, "threads")
	assert.Error(t, err)
}
