package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitmapHas(t *testing.T) {
	// 0b00010: bit 1 set (chunk 1 present), bits 0,2,3,4 clear.
	b := NewBitmap([]uint16{0b00010})
	assert.False(t, b.Has(0))
	assert.True(t, b.Has(1))
	assert.False(t, b.Has(2))
	assert.False(t, b.Has(3))
	assert.False(t, b.Has(4))
}

func TestBitmapSpansMultipleWords(t *testing.T) {
	b := NewBitmap([]uint16{0, 0b1})
	assert.False(t, b.Has(15))
	assert.True(t, b.Has(16))
	assert.Equal(t, 32, b.NumChunks())
}

func TestBitmapOutOfRangeIsFalse(t *testing.T) {
	b := NewBitmap([]uint16{0xFFFF})
	assert.False(t, b.Has(16))
	assert.False(t, b.Has(-1))
}
