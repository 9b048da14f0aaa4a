package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhoneHasher(t *testing.T) {
	h := NewPhoneHasher("k1")

	t.Run("stable for the same key", func(t *testing.T) {
		assert.Equal(t, h.Hash("+15551234567"), NewPhoneHasher("k1").Hash("+15551234567"))
		assert.Len(t, h.Hash("+15551234567"), 64)
	})

	t.Run("key changes the digest", func(t *testing.T) {
		assert.NotEqual(t, h.Hash("+15551234567"), NewPhoneHasher("k2").Hash("+15551234567"))
	})

	t.Run("empty phone has no digest", func(t *testing.T) {
		assert.Empty(t, h.Hash(""))
	})
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "+*******4567", MaskPhone("+15551234567"))
	assert.Equal(t, "***", MaskPhone("123"))
	assert.Equal(t, "", MaskPhone(""))
}
