package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"testing"

	"github.com/spf13/afero"
)

func TestCopyVerifiedReturnsDigest(t *testing.T) {
	srcFS := afero.NewMemMapFs()
	dstFS := afero.NewMemMapFs()
	content := []byte("hello world")
	if err := afero.WriteFile(srcFS, "/scratch/a.mp3", content, 0o644); err != nil {
		t.Fatal(err)
	}

	digest, err := CopyVerified(srcFS, "/scratch/a.mp3", dstFS, "/cache/a.mp3", 0o644)
	if err != nil {
		t.Fatalf("CopyVerified returned error: %v", err)
	}
	sum := sha256.Sum256(content)
	if digest != hex.EncodeToString(sum[:]) {
		t.Fatalf("unexpected digest %s", digest)
	}
	got, err := afero.ReadFile(dstFS, "/cache/a.mp3")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Fatalf("content mismatch: got %q, want %q", got, content)
	}
}

func TestCopyVerifiedAcrossOsFs(t *testing.T) {
	dir := t.TempDir()
	osFS := afero.NewOsFs()
	base := afero.NewBasePathFs(afero.NewOsFs(), dir)
	src := dir + "/src.bin"
	if err := os.WriteFile(src, make([]byte, 64*1024+7), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := CopyVerified(osFS, src, base, "dst.bin", 0o644); err != nil {
		t.Fatalf("CopyVerified returned error: %v", err)
	}
	info, err := os.Stat(dir + "/dst.bin")
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 64*1024+7 {
		t.Fatalf("unexpected size %d", info.Size())
	}
}

func TestCopyVerifiedMissingSource(t *testing.T) {
	fs := afero.NewMemMapFs()
	if _, err := CopyVerified(fs, "/missing", fs, "/dst", 0o644); err == nil {
		t.Fatal("expected error for missing source")
	}
	if exists, _ := afero.Exists(fs, "/dst"); exists {
		t.Fatal("destination should not be created")
	}
}

func TestSHA256File(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/f", []byte("abc"), 0o644); err != nil {
		t.Fatal(err)
	}
	digest, size, err := SHA256File(fs, "/f")
	if err != nil {
		t.Fatalf("SHA256File returned error: %v", err)
	}
	if size != 3 || digest != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("unexpected digest %s size %d", digest, size)
	}
}
