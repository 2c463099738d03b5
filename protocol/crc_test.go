package protocol

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRCReferenceValue(t *testing.T) {
	// CRC-32/MPEG-2 check value.
	assert.Equal(t, uint32(0x0376e6e7), CRCGet([]byte("123456789")))
	assert.Equal(t, uint32(crcSeed), CRCGet(nil))
}

func TestCRCRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for length := CRCSize; length < 300; length += 7 {
		buf := make([]byte, length)
		rng.Read(buf)
		CRCSet(buf)
		require.True(t, CRCCheck(buf), "length %d", length)
	}
}

func TestCRCDetectsSingleBitFlips(t *testing.T) {
	buf := []byte("HELLO policy daemon, this buffer ends in a trailer....")
	CRCSet(buf)
	require.True(t, CRCCheck(buf))

	for i := range buf {
		for bit := 0; bit < 8; bit++ {
			buf[i] ^= 1 << bit
			assert.False(t, CRCCheck(buf), "byte %d bit %d", i, bit)
			buf[i] ^= 1 << bit
		}
	}
}

func TestCRCShortBuffers(t *testing.T) {
	assert.False(t, CRCCheck([]byte{1, 2, 3}))
	CRCSet([]byte{1, 2}) // must not panic
}
