package decode

import (
	"bytes"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	appErrors "github.com/noah-isme/edurisk-api/pkg/errors"
)

// xlsxSource streams rows from the first sheet of a workbook. The container
// must be buffered in full before excelize can open it, so the size ceiling
// has already been enforced by the capped reader.
type xlsxSource struct {
	file    *excelize.File
	rows    *excelize.Rows
	headers []string
	limits  Limits
	next    int
	done    bool
}

func newXLSXSource(r io.Reader, limits Limits) (*xlsxSource, error) {
	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, r); err != nil && err != io.EOF {
		return nil, decodeErr(err)
	}

	file, err := excelize.OpenReader(buf)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrMalformedFile.Code, appErrors.ErrMalformedFile.Status, "spreadsheet container could not be opened")
	}

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		_ = file.Close()
		return nil, appErrors.Clone(appErrors.ErrMalformedFile, "workbook has no sheets")
	}

	rows, err := file.Rows(sheets[0])
	if err != nil {
		_ = file.Close()
		return nil, appErrors.Wrap(err, appErrors.ErrMalformedFile.Code, appErrors.ErrMalformedFile.Status, "sheet could not be read")
	}

	if !rows.Next() {
		_ = rows.Close()
		_ = file.Close()
		return nil, appErrors.Clone(appErrors.ErrMalformedFile, "file has no header row")
	}
	header, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		_ = file.Close()
		return nil, decodeErr(err)
	}
	headers := make([]string, len(header))
	for i, h := range header {
		headers[i] = strings.TrimSpace(h)
	}
	if blankRow(headers) {
		_ = rows.Close()
		_ = file.Close()
		return nil, appErrors.Clone(appErrors.ErrMalformedFile, "header row is blank")
	}

	return &xlsxSource{file: file, rows: rows, headers: headers, limits: limits}, nil
}

func (s *xlsxSource) Headers() []string { return s.headers }

func (s *xlsxSource) Next() (Row, error) {
	if s.done {
		return Row{}, io.EOF
	}
	if !s.rows.Next() {
		s.done = true
		if err := s.rows.Error(); err != nil {
			return Row{}, decodeErr(err)
		}
		return Row{}, io.EOF
	}
	cells, err := s.rows.Columns()
	if err != nil {
		s.done = true
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

func (s *xlsxSource) Close() error {
	if s.rows != nil {
		_ = s.rows.Close()
	}
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
