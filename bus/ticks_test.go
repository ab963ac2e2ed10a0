package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTick(t *testing.T) {
	t.Parallel()
	tick, ok := parseTick(map[string]interface{}{
		"code":  "005930",
		"price": "70500",
		"high":  "70900",
		"vol":   "120",
	})
	require.True(t, ok)
	assert.Equal(t, "005930", tick.StockCode)
	assert.Equal(t, int64(70500), tick.Price)
	assert.Equal(t, int64(70900), tick.High)
	assert.Equal(t, int64(120), tick.Volume)
	assert.False(t, tick.At.IsZero())
}

func TestParseTickDropsBadEntries(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		values map[string]interface{}
	}{
		{"missing code", map[string]interface{}{"price": "70500"}},
		{"missing price", map[string]interface{}{"code": "005930"}},
		{"zero price", map[string]interface{}{"code": "005930", "price": "0"}},
		{"garbage price", map[string]interface{}{"code": "005930", "price": "n/a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := parseTick(tt.values)
			assert.False(t, ok)
		})
	}
}

func TestParseTickAcceptsDecimalStrings(t *testing.T) {
	t.Parallel()
	tick, ok := parseTick(map[string]interface{}{
		"code":  "005930",
		"price": "70500.0",
		"vol":   "12.0",
	})
	require.True(t, ok)
	assert.Equal(t, int64(70500), tick.Price)
	assert.Equal(t, int64(12), tick.Volume)
	assert.Zero(t, tick.High)
}
