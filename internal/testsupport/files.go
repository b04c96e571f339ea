package testsupport

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

// fakeAudioHeader makes written files look like MP3 data to anything that
// sniffs content types.
var fakeAudioHeader = []byte("ID3\x04\x00\x00\x00\x00\x00\x00")

// WriteFile creates path (and its parent directories) holding exactly size
// bytes of fake audio. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	size = max(size, 1)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}

	body := io.MultiReader(bytes.NewReader(fakeAudioHeader), repeatByte(0x42))
	if _, err := io.CopyN(f, body, size); err != nil {
		_ = f.Close()
		t.Fatalf("write %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
}

type repeatByte byte

func (b repeatByte) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(b)
	}
	return len(p), nil
}
