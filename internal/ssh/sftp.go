package ssh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
)

// PushFile uploads a local file to a remote path and verifies the remote
// SHA-256 by reading the upload back. A mismatched upload is removed.
func PushFile(ctx context.Context, sf *sftp.Client, localPath, remotePath string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := sf.MkdirAll(path.Dir(remotePath)); err != nil {
		return 0, fmt.Errorf("mkdir remote: %w", err)
	}
	src, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("open local: %w", err)
	}
	defer src.Close()
	dst, err := sf.Create(remotePath)
	if err != nil {
		return 0, fmt.Errorf("create remote: %w", err)
	}
	h := sha256.New()
	n, err := io.Copy(dst, io.TeeReader(src, h))
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("copy: %w", err)
	}

	want := hex.EncodeToString(h.Sum(nil))
	got, err := RemoteChecksum(sf, remotePath)
	if err != nil {
		return n, err
	}
	if got != want {
		_ = sf.Remove(remotePath)
		return n, fmt.Errorf("checksum mismatch for %s: expected %s, got %s", remotePath, want, got)
	}
	return n, nil
}

// RemoteChecksum returns the hex SHA-256 of a remote file.
func RemoteChecksum(sf *sftp.Client, remotePath string) (string, error) {
	f, err := sf.Open(remotePath)
	if err != nil {
		return "", fmt.Errorf("open remote: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read remote: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
