package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBindingContract checks the binding schema against representative
// documents.
func TestBindingContract(t *testing.T) {
	v, err := NewBindingValidator()
	require.NoError(t, err)

	tests := []struct {
		name    string
		data    map[string]any
		wantErr bool
	}{
		{
			name: "full_binding",
			data: map[string]any{
				"description": "GPIO controller",
				"compatible":  "vendor,gpio",
				"include": []any{
					"base.yaml",
					map[string]any{"name": "pinctrl.yaml", "property-allowlist": []any{"pinctrl-0"}},
				},
				"on-bus": "i2c",
				"properties": map[string]any{
					"reg":    map[string]any{"required": true},
					"ngpios": map[string]any{"type": "int", "default": 32},
					"empty":  nil,
				},
				"gpio-cells": []any{"pin", "flags"},
				"child-binding": map[string]any{
					"properties": map[string]any{"label": map[string]any{"type": "string"}},
				},
			},
		},
		{
			name: "include_scalar",
			data: map[string]any{"include": "base.yaml"},
		},
		{
			name: "unknown_property_type",
			data: map[string]any{
				"properties": map[string]any{"x": map[string]any{"type": "float"}},
			},
			wantErr: true,
		},
		{
			name:    "cells_not_a_list",
			data:    map[string]any{"gpio-cells": "pin"},
			wantErr: true,
		},
		{
			name: "include_entry_without_name",
			data: map[string]any{
				"include": []any{map[string]any{"property-allowlist": []any{"reg"}}},
			},
			wantErr: true,
		},
		{
			name:    "empty_compatible",
			data:    map[string]any{"compatible": ""},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.data)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestContextsContract(t *testing.T) {
	v, err := NewContextsValidator()
	require.NoError(t, err)

	valid := `{"version": 1, "contexts": [{"name": "board", "boardFile": "/b.dts", "overlays": ["/a.overlay"]}]}`
	assert.NoError(t, v.ValidateJSON([]byte(valid)), "valid contexts file")

	for _, bad := range []string{
		`{"version": 0, "contexts": []}`,
		`{"version": 1, "contexts": [{"name": "", "boardFile": "/b.dts"}]}`,
		`{"version": 1, "contexts": [{"name": "x", "boardFile": "/b.dts", "extra": 1}]}`,
	} {
		assert.Error(t, v.ValidateJSON([]byte(bad)), bad)
	}
}

func TestFactsContract(t *testing.T) {
	v, err := NewFactsValidator()
	require.NoError(t, err)

	tables := map[string]any{
		"files":          []any{map[string]any{"path": "/ws/Kconfig", "kind": "kconfig", "context": ""}},
		"configs":        []any{},
		"config_entries": []any{},
		"selects":        []any{},
		"nodes": []any{map[string]any{
			"context": "b", "path": "/soc/", "name": "soc", "compatible": "",
			"enabled": true, "binding": "", "file": "/b.dts", "line": 3,
		}},
		"labels":     []any{},
		"properties": []any{},
		"includes":   []any{},
	}
	require.NoError(t, v.Validate(tables), "valid tables")

	tables["files"] = []any{map[string]any{"path": "/x", "kind": "verilog", "context": ""}}
	errs := v.ValidationErrors(tables)
	require.NotEmpty(t, errs, "unknown file kind")
	assert.Contains(t, strings.Join(errs, "\n"), "kind", "errors name the field")
}
