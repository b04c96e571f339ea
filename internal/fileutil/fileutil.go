// Package fileutil holds checksum-verified copy helpers that work across afero
// filesystems.
package fileutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
)

// CopyVerified streams src from srcFS to dst on dstFS while hashing both sides,
// and returns the hex SHA-256 of the copied content. dst is removed on any size
// or hash mismatch.
func CopyVerified(srcFS afero.Fs, src string, dstFS afero.Fs, dst string, mode os.FileMode) (string, error) {
	srcInfo, err := srcFS.Stat(src)
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}
	if !srcInfo.Mode().IsRegular() {
		return "", fmt.Errorf("source %s is not a regular file", src)
	}

	in, err := srcFS.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := dstFS.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = out.Close()
	}()

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	tee := io.TeeReader(in, srcHasher)
	multi := io.MultiWriter(out, dstHasher)

	written, err := io.Copy(multi, tee)
	if err != nil {
		_ = dstFS.Remove(dst)
		return "", err
	}
	if err := out.Close(); err != nil {
		_ = dstFS.Remove(dst)
		return "", err
	}

	if written != srcInfo.Size() {
		_ = dstFS.Remove(dst)
		return "", fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcInfo.Size(), written)
	}
	if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
		_ = dstFS.Remove(dst)
		return "", fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}
	return hex.EncodeToString(dstHasher.Sum(nil)), nil
}

// SHA256File returns the hex SHA-256 and size of path on fs.
func SHA256File(fs afero.Fs, path string) (string, int64, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	hasher := sha256.New()
	n, err := io.Copy(hasher, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}
