package helper

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPacket_RoundTrip(t *testing.T) {
	pkt := EncodePacket("EXTRACT", []byte("data"))

	cmd, payload, consumed, err := DecodePacket(pkt)
	require.NoError(t, err)
	assert.Equal(t, "EXTRACT", cmd)
	assert.Equal(t, []byte("data"), payload)
	assert.Equal(t, len(pkt), consumed)
}

// Fragment delivery: [size=12]["EXTRACT\0data"] split into reads of 4, 5,
// and 7 bytes. The first two reads leave the buffer unconsumed.
func TestPacket_Fragmentation(t *testing.T) {
	pkt := EncodePacket("EXTRACT", []byte("data"))
	require.Len(t, pkt, 4+12)

	buf := pkt[:4]
	cmd, _, consumed, err := DecodePacket(buf)
	require.NoError(t, err)
	assert.Zero(t, consumed)
	assert.Empty(t, cmd)

	buf = pkt[:4+5]
	_, _, consumed, err = DecodePacket(buf)
	require.NoError(t, err)
	assert.Zero(t, consumed)

	buf = pkt
	cmd, payload, consumed, err := DecodePacket(buf)
	require.NoError(t, err)
	assert.Equal(t, "EXTRACT", cmd)
	assert.Equal(t, []byte("data"), payload)
	assert.Equal(t, len(pkt), consumed)
}

func TestPacket_TrailingBytesStayBuffered(t *testing.T) {
	first := EncodePacket("a", []byte{1, 2})
	second := EncodePacket("b", nil)
	buf := append(append([]byte{}, first...), second...)

	cmd, payload, consumed, err := DecodePacket(buf)
	require.NoError(t, err)
	assert.Equal(t, "a", cmd)
	assert.Equal(t, []byte{1, 2}, payload)
	assert.Equal(t, len(first), consumed)

	cmd, payload, consumed, err = DecodePacket(buf[consumed:])
	require.NoError(t, err)
	assert.Equal(t, "b", cmd)
	assert.Empty(t, payload)
	assert.Equal(t, len(second), consumed)
}

func TestPacket_MissingSeparator(t *testing.T) {
	buf := []byte{3, 0, 0, 0, 'a', 'b', 'c'}
	_, _, _, err := DecodePacket(buf)
	assert.Error(t, err)
}

func TestPacket_RoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cmd := rapid.StringMatching(`[a-z-]{1,32}`).Draw(t, "cmd")
		payload := rapid.SliceOfN(rapid.Byte(), 0, 256).Draw(t, "payload")

		pkt := EncodePacket(cmd, payload)

		// Any strict prefix is incomplete and consumes nothing.
		cut := rapid.IntRange(0, len(pkt)-1).Draw(t, "cut")
		_, _, consumed, err := DecodePacket(pkt[:cut])
		if err == nil {
			assert.Zero(t, consumed)
		}

		gotCmd, gotPayload, consumed, err := DecodePacket(pkt)
		require.NoError(t, err)
		assert.Equal(t, cmd, gotCmd)
		assert.True(t, bytes.Equal(payload, gotPayload))
		assert.Equal(t, len(pkt), consumed)
	})
}
