package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UnknownKey_InSection(t *testing.T) {
	path := writeTestConfig(t, "[service]\nauth_flw = \"browser\"\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "service.auth_flw"`)
	assert.Contains(t, err.Error(), `did you mean "service.auth_flow"`)
}

func TestLoad_UnknownSection(t *testing.T) {
	path := writeTestConfig(t, "[downlaod]\ndownload_dir = \"/tmp/x\"\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config section "downlaod"`)
	assert.Contains(t, err.Error(), `did you mean "download"`)
	// The section and its key are both undecoded; report once.
	assert.Equal(t, 1, countLines(err.Error()))
}

func TestLoad_UnknownKey_TopLevel(t *testing.T) {
	path := writeTestConfig(t, `
unknown_setting = "value"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config section")
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLoad_UnknownKey_NoSuggestion(t *testing.T) {
	path := writeTestConfig(t, `
[grants]
completely_unrelated_key = true
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLoad_HandlerKeysAreNotUnknown(t *testing.T) {
	path := writeTestConfig(t, `
[open.handlers]
"application/pdf" = "zathura"
"image/*" = "feh %f"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "zathura", cfg.Open.Handlers["application/pdf"])
	assert.Equal(t, "feh %f", cfg.Open.Handlers["image/*"])
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"auth_flw", "auth_flow", 1},
		{"downlaod", "download", 2},
		{"completely_different", "xyz", 19},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.expected, levenshtein(tt.a, tt.b))
		})
	}
}

func TestClosestMatch(t *testing.T) {
	known := []string{"db_path", "key_file", "store"}
	assert.Equal(t, "key_file", closestMatch("key_fil", known))
	assert.Equal(t, "store", closestMatch("STORE", known))
	assert.Equal(t, "", closestMatch("completely_unrelated", known))
}
