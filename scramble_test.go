package netasio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScramble_Deterministic(t *testing.T) {
	assert.Equal(t, scramble(12345), scramble(12345))
}

func TestScramble_NotIdentity(t *testing.T) {
	assert.NotEqual(t, uint64(12345), scramble(12345))
}

func TestScramble_DifferentInputsDifferentOutputs(t *testing.T) {
	assert.NotEqual(t, scramble(1), scramble(2))
}

// A peer that echoes the raw nonce instead of computing scramble(nonce)
// must fail the check — this is the handshake's entire purpose (spec
// §8 property 7).
func TestScramble_EchoedNonceFailsCheck(t *testing.T) {
	nonce := uint64(0xFEEDFACE)
	assert.NotEqual(t, nonce, scramble(nonce))
}
