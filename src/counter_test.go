package laika

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestCounterPrecedes(t *testing.T) {
	assert.True(t, concentrator_time(0).precedes(1))
	assert.False(t, concentrator_time(1).precedes(0))
	assert.False(t, concentrator_time(5).precedes(5))

	// Across the wrap: 0xFFFFF000 is "before" 0x00010000.
	assert.True(t, concentrator_time(0xFFFFF000).precedes(0x00010000))
	assert.False(t, concentrator_time(0x00010000).precedes(0xFFFFF000))
}

func TestCounterDistance(t *testing.T) {
	assert.Equal(t, int32(10), concentrator_time(100).distance_us(110))
	assert.Equal(t, int32(-10), concentrator_time(110).distance_us(100))

	// Distance is still small across the wrap.
	assert.Equal(t, int32(0x11000), concentrator_time(0xFFFFF000).distance_us(0x00010000))
}

func TestCounterAdd(t *testing.T) {
	assert.Equal(t, concentrator_time(0x00000010), concentrator_time(0xFFFFFFF0).add_us(0x20))
	assert.Equal(t, concentrator_time(0xFFFFFFF0), concentrator_time(0x00000010).add_us(-0x20))
}

func TestCounterAlgebra(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var a = concentrator_time(rapid.Uint32().Draw(t, "a"))
		var d = rapid.Int32Range(-1<<30, 1<<30).Draw(t, "d")

		var b = a.add_us(d)
		assert.Equal(t, d, a.distance_us(b))

		if d > 0 {
			assert.True(t, a.precedes(b))
		} else if d < 0 {
			assert.True(t, b.precedes(a))
		}
	})
}
