// Package media holds the low-level audio file helpers shared by the
// download monitor and the tagger.
package media

import (
	"os"
)

// HeaderLength is the number of leading bytes inspected when deciding
// whether a file looks like an MP3.
const HeaderLength = 10

// SniffMP3 reports whether the leading bytes of a file carry a known
// MP3 signature: either an ID3v2 container tag, or an MPEG frame sync
// (eleven set bits) at the start of the payload.
func SniffMP3(header []byte) bool {
	if len(header) >= 3 && header[0] == 'I' && header[1] == 'D' && header[2] == '3' {
		return true
	}

	if len(header) >= 2 && header[0] == 0xFF && (header[1]&0xE0) == 0xE0 {
		return true
	}

	return false
}

// ReadHeader reads the leading HeaderLength bytes of the file at path.
// Short files yield however many bytes exist.
func ReadHeader(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header := make([]byte, HeaderLength)
	n, err := f.Read(header)
	if n > 0 {
		return header[:n], nil
	}

	return nil, err
}
