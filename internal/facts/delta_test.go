package facts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDeltaAddsAndRemoves(t *testing.T) {
	prev := Tables{
		Configs: []ConfigRow{
			{Name: "A", Type: "bool", Value: "y", File: "Kconfig", Line: 1},
		},
		Nodes: []NodeRow{
			{Context: "app", Path: "/soc/", Name: "soc", File: "board.dts", Line: 2},
		},
	}
	next := Tables{
		Configs: []ConfigRow{
			{Name: "A", Type: "bool", Value: "n", File: "Kconfig", Line: 1},
		},
		Nodes: []NodeRow{
			{Context: "app", Path: "/soc/", Name: "soc", File: "board.dts", Line: 2},
		},
	}

	delta := ComputeDelta(prev, next)

	require.Len(t, delta.Added.Configs, 1)
	assert.Equal(t, "n", delta.Added.Configs[0].Value)
	require.Len(t, delta.Removed.Configs, 1)
	assert.Equal(t, "y", delta.Removed.Configs[0].Value)
	assert.Empty(t, delta.Added.Nodes)
	assert.Empty(t, delta.Removed.Nodes)
	assert.False(t, delta.Empty())
}

func TestComputeDeltaEmpty(t *testing.T) {
	tables := Tables{Labels: []LabelRow{{Context: "app", Label: "led0", Path: "/leds/led_0/"}}}
	delta := ComputeDelta(tables, tables)
	assert.True(t, delta.Empty())
	assert.NotNil(t, delta.Added.Labels, "relations are empty, not nil")
	assert.NotNil(t, delta.Removed.Labels)
}
