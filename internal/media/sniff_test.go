package media_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mmcpherson/cadenza/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSniffMP3(t *testing.T) {
	assert.True(t, media.SniffMP3([]byte("ID3\x04\x00\x00\x00\x00\x00\x00")))
	assert.True(t, media.SniffMP3([]byte{0xFF, 0xFB, 0x90, 0x00}))
	assert.True(t, media.SniffMP3([]byte{0xFF, 0xE2}))

	assert.False(t, media.SniffMP3(nil))
	assert.False(t, media.SniffMP3([]byte{0xFF}))
	assert.False(t, media.SniffMP3([]byte{0xFF, 0x1B}), "sync requires the top three bits of the second byte")
	assert.False(t, media.SniffMP3([]byte("RIFF....WAVE")))
	assert.False(t, media.SniffMP3([]byte("ID2junk")))
}

func TestReadHeaderShortFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.mp3")
	require.NoError(t, os.WriteFile(path, []byte{0xFF, 0xFB}, 0o644))

	header, err := media.ReadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xFB}, header)
}
