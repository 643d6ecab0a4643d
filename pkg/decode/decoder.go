// Package decode turns uploaded CSV and XLSX byte streams into an ordered,
// single-pass sequence of raw rows. Decoding is a pure transform: nothing is
// persisted and the source can only be replayed by re-reading the bytes.
package decode

import (
	"io"
	"path/filepath"
	"strings"

	appErrors "github.com/noah-isme/edurisk-api/pkg/errors"
)

// Row is one decoded data row. Index is zero-based over data rows; the header
// row is not counted. Values maps the original column header to the raw cell
// string.
type Row struct {
	Index  int
	Values map[string]string
}

// Limits bounds resource use for pathological inputs.
type Limits struct {
	MaxFileSizeBytes int64
	MaxRows          int
}

// Source is a lazy row sequence. Next returns io.EOF when the stream ends or
// at the first fully blank row.
type Source interface {
	Headers() []string
	Next() (Row, error)
	Close() error
}

// Open inspects the declared filename, enforces the size ceiling, and returns
// a Source for the stream. size is the declared upload size; pass 0 when
// unknown (the ceiling is then enforced while reading).
func Open(r io.Reader, filename string, size int64, limits Limits) (Source, error) {
	if limits.MaxFileSizeBytes > 0 && size > limits.MaxFileSizeBytes {
		return nil, appErrors.ErrFileTooLarge
	}
	if limits.MaxFileSizeBytes > 0 {
		r = &cappedReader{r: r, remaining: limits.MaxFileSizeBytes}
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return newCSVSource(r, limits)
	case ".xlsx":
		return newXLSXSource(r, limits)
	default:
		return nil, appErrors.ErrUnsupportedFormat
	}
}

// cappedReader fails with ErrFileTooLarge once more than the ceiling has been
// read, so undeclared sizes cannot bypass the limit.
type cappedReader struct {
	r         io.Reader
	remaining int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.remaining <= 0 {
		return 0, appErrors.ErrFileTooLarge
	}
	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	if err == nil && c.remaining == 0 {
		// Probe one more byte to distinguish "exactly at the limit" from
		// "over the limit".
		var probe [1]byte
		if pn, perr := c.r.Read(probe[:]); pn > 0 {
			return n, appErrors.ErrFileTooLarge
		} else if perr != nil && perr != io.EOF {
			return n, perr
		}
		return n, io.EOF
	}
	return n, err
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
