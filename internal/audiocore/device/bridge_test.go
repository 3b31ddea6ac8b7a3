package device

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureBridgePullAccumulatesAcrossChunks(t *testing.T) {
	b := newCaptureBridge(4)
	b.push([]byte{1, 2, 3})
	b.push([]byte{4, 5, 6})

	timeout := time.NewTimer(time.Second)
	defer timeout.Stop()

	got, err := b.pull(5, timeout.C)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, got)

	got, err = b.pull(1, timeout.C)
	require.NoError(t, err)
	assert.Equal(t, []byte{6}, got)
}

func TestCaptureBridgePullTimesOutWhenStarved(t *testing.T) {
	b := newCaptureBridge(4)
	timeout := time.NewTimer(10 * time.Millisecond)
	defer timeout.Stop()

	_, err := b.pull(10, timeout.C)
	assert.ErrorIs(t, err, errCaptureTimeout)
}

func TestCaptureBridgePushDropsWhenFull(t *testing.T) {
	b := newCaptureBridge(1)
	assert.True(t, b.push([]byte{1}))
	assert.False(t, b.push([]byte{2}))
}

func TestPlaybackBridgeDrainPadsShortfallWithSilence(t *testing.T) {
	b := newPlaybackBridge(4)
	b.submit([]byte{9, 9})

	out := make([]byte, 5)
	n := b.drain(out)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{9, 9, 0, 0, 0}, out)
}

func TestPlaybackBridgeDrainCarriesLeftoverAcrossCalls(t *testing.T) {
	b := newPlaybackBridge(4)
	b.submit([]byte{1, 2, 3, 4})

	first := make([]byte, 3)
	n := b.drain(first)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte{1, 2, 3}, first)

	second := make([]byte, 3)
	n = b.drain(second)
	assert.Equal(t, 1, n)
	assert.Equal(t, []byte{4, 0, 0}, second)
}

func TestPlaybackBridgeSubmitRejectsWhenFull(t *testing.T) {
	b := newPlaybackBridge(1)
	assert.True(t, b.submit([]byte{1}))
	assert.False(t, b.submit([]byte{2}))
}
