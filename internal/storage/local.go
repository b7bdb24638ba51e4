package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// Local stores objects as files under Root/<bucket>/<key>. It is used when
// no S3 endpoint is configured.
type Local struct {
	Root string
}

func (l Local) path(bucket, key string) string {
	return filepath.Join(l.Root, bucket, filepath.FromSlash(cleanKey(key)))
}

func (l Local) PutFile(ctx context.Context, bucket, key, filePath string) error {
	src, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", filePath, err)
	}
	defer src.Close()

	dst := l.path(bucket, key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	pf, err := renameio.NewPendingFile(dst, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer pf.Cleanup()

	if _, err := io.Copy(pf, &ctxReader{ctx: ctx, r: src}); err != nil {
		return fmt.Errorf("copy %s: %w", filePath, err)
	}
	return pf.CloseAtomicallyReplace()
}

func (l Local) PutBytes(ctx context.Context, bucket, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst := l.path(bucket, key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(dst, data, 0o644)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
