package distribution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// VerifyResult is the outcome of re-hashing one registered model.
type VerifyResult struct {
	Name     string
	Path     string
	Expected string
	Actual   string
	Err      error
}

func (r VerifyResult) OK() bool { return r.Err == nil }

// Verify re-hashes every registered model and compares it to the recorded hash.
func (c *Client) Verify(ctx context.Context) ([]VerifyResult, error) {
	if err := c.st.CheckIntegrity(); err != nil {
		return nil, err
	}
	rows, err := c.st.ListModels()
	if err != nil {
		return nil, err
	}
	out := make([]VerifyResult, 0, len(rows))
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res := VerifyResult{Name: r.Name, Path: r.Path, Expected: r.Hash}
		res.Actual, res.Err = HashFile(r.Path)
		if res.Err == nil && r.Hash != "" && !equalHash(r.Hash, res.Actual) {
			res.Err = fmt.Errorf("%w: expected=%s actual=%s", ErrHashMismatch, r.Hash, res.Actual)
		}
		if res.Err != nil {
			c.log.Warnf("model %s: verify failed: %v", r.Name, res.Err)
		}
		out = append(out, res)
	}
	return out, nil
}

// HashFile computes the SHA-256 of a file using a 1 MiB buffer.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	buf := make([]byte, 1<<20)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
