package decode

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"

	appErrors "github.com/noah-isme/edurisk-api/pkg/errors"
)

type csvSource struct {
	reader  *csv.Reader
	headers []string
	limits  Limits
	next    int
	done    bool
}

func newCSVSource(r io.Reader, limits Limits) (*csvSource, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, appErrors.Clone(appErrors.ErrMalformedFile, "file has no header row")
		}
		return nil, decodeErr(err)
	}
	headers := make([]string, len(header))
	for i, h := range header {
		headers[i] = strings.TrimSpace(h)
	}
	if blankRow(headers) {
		return nil, appErrors.Clone(appErrors.ErrMalformedFile, "header row is blank")
	}

	return &csvSource{reader: reader, headers: headers, limits: limits}, nil
}

func (s *csvSource) Headers() []string { return s.headers }

func (s *csvSource) Next() (Row, error) {
	if s.done {
		return Row{}, io.EOF
	}
	cells, err := s.reader.Read()
	if err != nil {
		s.done = true
		if err == io.EOF {
			return Row{}, io.EOF
		}
		return Row{}, decodeErr(err)
	}
	if blankRow(cells) {
		s.done = true
		return Row{}, io.EOF
	}
	if s.limits.MaxRows > 0 && s.next >= s.limits.MaxRows {
		s.done = true
		return Row{}, appErrors.Clone(appErrors.ErrFileTooLarge, "file exceeds the configured row limit")
	}

	values := make(map[string]string, len(s.headers))
	for i, h := range s.headers {
		if h == "" {
			continue
		}
		if i < len(cells) {
			values[h] = strings.TrimSpace(cells[i])
		}
	}
	row := Row{Index: s.next, Values: values}
	s.next++
	return row, nil
}

func (s *csvSource) Close() error { return nil }

// decodeErr keeps typed pipeline errors intact and folds everything else
// (unbalanced quoting, reader failures) into MalformedFile.
func decodeErr(err error) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Wrap(err, appErrors.ErrMalformedFile.Code, appErrors.ErrMalformedFile.Status, "file could not be parsed")
}
