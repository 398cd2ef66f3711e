package snapshot

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dazubi/internal/table"
)

// CompressedExt is appended to CSV file names when compression is enabled.
const CompressedExt = ".bz2"

// WriteFile writes t as CSV to path. The data goes to path+".tmp" first and
// replaces path only after it was written and synced completely. If writing
// fails or ctx is cancelled the temporary file is removed and the previous
// content of path is left untouched. Paths ending in ".bz2" are compressed.
func WriteFile(ctx context.Context, path string, t *table.Table, delim rune) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "snapshot: create dir for %s", path)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return eris.Wrapf(err, "snapshot: create %s", tmp)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if err := writeTo(ctx, f, path, t, delim); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return eris.Wrapf(err, "snapshot: sync %s", tmp)
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "snapshot: close %s", tmp)
	}
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "snapshot: write interrupted")
	}
	if err := os.Rename(tmp, path); err != nil {
		return eris.Wrapf(err, "snapshot: replace %s", path)
	}
	return nil
}

func writeTo(ctx context.Context, f *os.File, path string, t *table.Table, delim rune) error {
	bw := bufio.NewWriter(f)
	var w io.Writer = bw
	var zw *bzip2.Writer
	if strings.HasSuffix(path, CompressedExt) {
		var err error
		zw, err = bzip2.NewWriter(bw, &bzip2.WriterConfig{Level: bzip2.BestCompression})
		if err != nil {
			return eris.Wrap(err, "snapshot: bzip2 writer")
		}
		w = zw
	}

	if err := table.WriteCSV(&ctxWriter{ctx: ctx, w: w}, t, delim); err != nil {
		return eris.Wrapf(err, "snapshot: write %s", path)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return eris.Wrapf(err, "snapshot: finish bzip2 stream for %s", path)
		}
	}
	return eris.Wrapf(bw.Flush(), "snapshot: flush %s", path)
}

// ReadFile reads a CSV written by WriteFile.
func ReadFile(path string, delim rune) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "snapshot: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, CompressedExt) {
		zr, err := bzip2.NewReader(r, nil)
		if err != nil {
			return nil, eris.Wrapf(err, "snapshot: bzip2 reader for %s", path)
		}
		defer zr.Close() //nolint:errcheck
		r = zr
	}
	t, err := table.ReadCSV(r, delim)
	if err != nil {
		return nil, eris.Wrapf(err, "snapshot: read %s", path)
	}
	return t, nil
}

// ctxWriter fails the write as soon as ctx is done, so an interrupt stops a
// large write early instead of finishing it.
type ctxWriter struct {
	ctx context.Context
	w   io.Writer
}

func (c *ctxWriter) Write(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.w.Write(p)
}
