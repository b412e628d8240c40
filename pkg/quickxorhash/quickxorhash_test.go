package quickxorhash

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sum(t *testing.T, input []byte) string {
	t.Helper()

	h := New()
	n, err := h.Write(input)
	require.NoError(t, err)
	require.Equal(t, len(input), n)

	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Reference digests as reported by OneDrive for the same content.
func TestKnownVectors(t *testing.T) {
	counting := make([]byte, 1024)
	for i := range counting {
		counting[i] = byte(i)
	}

	tests := []struct {
		name   string
		input  []byte
		expect string
	}{
		{"empty", nil, "AAAAAAAAAAAAAAAAAAAAAAAAAAA="},
		{"hello", []byte("hello"), "aCgDG9jwBgAAAAAABQAAAAAAAAA="},
		{"hello world", []byte("hello world"), "aCgDG9jwBhDc4Q1yawMZAAAAAAA="},
		{"1000 zero bytes", make([]byte, 1000), "AAAAAAAAAAAAAAAA6AMAAAAAAAA="},
		{"1000 0xFF bytes", bytes.Repeat([]byte{0xFF}, 1000), "Yxvb2MY2trGNbWxj89jYOc5xjnM="},
		{"1024 counting bytes", counting, "h7xr2dbCayZCQYR9KKhlwDuT4UI="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, sum(t, tt.input))
		})
	}
}

func TestIncrementalWriteMatchesOneShot(t *testing.T) {
	input := make([]byte, 4096)
	for i := range input {
		input[i] = byte(i * 7)
	}

	h := New()

	for offset, step := 0, 1; offset < len(input); step = step*3 + 1 {
		end := min(offset+step, len(input))
		_, _ = h.Write(input[offset:end])
		offset = end
	}

	assert.Equal(t, sum(t, input), base64.StdEncoding.EncodeToString(h.Sum(nil)))
}

func TestSumDoesNotMutate(t *testing.T) {
	h := New()
	_, _ = h.Write([]byte("abc"))

	first := h.Sum(nil)
	assert.Equal(t, first, h.Sum(nil))

	_, _ = h.Write([]byte("def"))
	assert.Equal(t, sum(t, []byte("abcdef")), base64.StdEncoding.EncodeToString(h.Sum(nil)))
}

func TestSumAppends(t *testing.T) {
	h := New()
	out := h.Sum([]byte{1, 2})
	assert.Len(t, out, 2+Size)
	assert.Equal(t, []byte{1, 2}, out[:2])
}

func TestReset(t *testing.T) {
	h := New()
	_, _ = h.Write([]byte("hello"))
	h.Reset()

	assert.Equal(t, make([]byte, Size), h.Sum(nil))
	assert.Equal(t, Size, h.Size())
	assert.Equal(t, BlockSize, h.BlockSize())
}
