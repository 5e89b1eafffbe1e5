package extractor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gpioBinding = `# Copyright (c) vendor
description: Test GPIO controller

compatible: "vendor,gpio"  # trailing comment

include:
  - base.yaml
  - name: pinctrl-device.yaml
    property-allowlist:
      - pinctrl-0
  - "gpio-controller.yaml"

on-bus: i2c
bus: [spi, "i3c"]

properties:
  ngpios:
    type: int

gpio-cells:
  - pin
  - flags

child-binding:
  description: child node
`

func extractors() map[string]*Extractor {
	return map[string]*Extractor{
		"tree-sitter": NewYAML(),
		"patterns":    New(),
	}
}

func TestExtractHeader(t *testing.T) {
	want := Header{
		File:           "gpio.yaml",
		Compatible:     "vendor,gpio",
		CompatibleLine: 4,
		Includes:       []string{"base.yaml", "pinctrl-device.yaml", "gpio-controller.yaml"},
		OnBus:          "i2c",
		Buses:          []string{"spi", "i3c"},
		ChildBinding:   true,
	}
	for name, e := range extractors() {
		t.Run(name, func(t *testing.T) {
			got, err := e.ExtractBytes(context.Background(), "gpio.yaml", []byte(gpioBinding))
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestExtractIncludeForms(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{"scalar", "include: base.yaml\n", []string{"base.yaml"}},
		{"flow list", "include: [a.yaml, 'b.yaml']\n", []string{"a.yaml", "b.yaml"}},
		{"zero indent list", "include:\n- a.yaml\n- b.yaml\n", []string{"a.yaml", "b.yaml"}},
		{"none", "description: x\n", nil},
	}
	for _, tt := range tests {
		for name, e := range extractors() {
			t.Run(tt.name+"/"+name, func(t *testing.T) {
				got, err := e.ExtractBytes(context.Background(), "x.yaml", []byte(tt.yaml))
				require.NoError(t, err)
				assert.Equal(t, tt.want, got.Includes)
				assert.Empty(t, got.Compatible)
			})
		}
	}
}

func TestExtractReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gpio.yaml")
	require.NoError(t, os.WriteFile(path, []byte(gpioBinding), 0o644))
	h, err := NewYAML().Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, h.File)
	assert.Equal(t, "vendor,gpio", h.Compatible)

	_, err = New().Extract(context.Background(), filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestStripComment(t *testing.T) {
	tests := map[string]string{
		"a: b # c":        "a: b",
		"# only":          "",
		`a: "x # y"`:      `a: "x # y"`,
		"a: b#c":          "a: b#c",
		"  - x.yaml\t# z": "  - x.yaml",
	}
	for in, want := range tests {
		assert.Equal(t, want, stripComment(in), in)
	}
}
