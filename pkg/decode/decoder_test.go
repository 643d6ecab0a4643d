package decode

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	appErrors "github.com/noah-isme/edurisk-api/pkg/errors"
)

func drain(t *testing.T, src Source) []Row {
	t.Helper()
	var rows []Row
	for {
		row, err := src.Next()
		if err == io.EOF {
			return rows
		}
		require.NoError(t, err)
		rows = append(rows, row)
	}
}

func TestOpenCSV(t *testing.T) {
	input := "Student ID,Name,Score\nS1,Alice,90\nS2,Bob,75\n"
	src, err := Open(strings.NewReader(input), "roster.csv", int64(len(input)), Limits{})
	require.NoError(t, err)
	defer src.Close() //nolint:errcheck

	assert.Equal(t, []string{"Student ID", "Name", "Score"}, src.Headers())
	rows := drain(t, src)
	require.Len(t, rows, 2)
	assert.Equal(t, 0, rows[0].Index)
	assert.Equal(t, "Alice", rows[0].Values["Name"])
	assert.Equal(t, 1, rows[1].Index)
	assert.Equal(t, "75", rows[1].Values["Score"])
}

func TestOpenCSVDecodeIsRepeatable(t *testing.T) {
	input := "id,name\nS1,Alice\nS2,Bob\n"
	decodeOnce := func() []Row {
		src, err := Open(strings.NewReader(input), "a.csv", 0, Limits{})
		require.NoError(t, err)
		defer src.Close() //nolint:errcheck
		return drain(t, src)
	}
	first := decodeOnce()
	second := decodeOnce()
	assert.Equal(t, first, second)
}

func TestOpenUnsupportedFormat(t *testing.T) {
	_, err := Open(strings.NewReader("a,b\n1,2\n"), "roster.xls", 10, Limits{})
	assert.ErrorIs(t, err, appErrors.ErrUnsupportedFormat)

	_, err = Open(strings.NewReader("{}"), "roster.json", 2, Limits{})
	assert.ErrorIs(t, err, appErrors.ErrUnsupportedFormat)
}

func TestOpenRejectsDeclaredOversize(t *testing.T) {
	_, err := Open(strings.NewReader("a\n1\n"), "a.csv", 100, Limits{MaxFileSizeBytes: 10})
	assert.ErrorIs(t, err, appErrors.ErrFileTooLarge)
}

func TestOpenRejectsUndeclaredOversize(t *testing.T) {
	payload := "id,name\n" + strings.Repeat("S1,Alice\n", 100)
	src, err := Open(strings.NewReader(payload), "a.csv", 0, Limits{MaxFileSizeBytes: 64})
	require.NoError(t, err)
	defer src.Close() //nolint:errcheck

	var last error
	for {
		_, err := src.Next()
		if err != nil {
			last = err
			break
		}
	}
	var appErr *appErrors.Error
	require.True(t, errors.As(last, &appErr))
	assert.Equal(t, appErrors.ErrFileTooLarge.Code, appErr.Code)
}

func TestCSVRowLimit(t *testing.T) {
	input := "id\nS1\nS2\nS3\n"
	src, err := Open(strings.NewReader(input), "a.csv", 0, Limits{MaxRows: 2})
	require.NoError(t, err)
	defer src.Close() //nolint:errcheck

	_, err = src.Next()
	require.NoError(t, err)
	_, err = src.Next()
	require.NoError(t, err)
	_, err = src.Next()
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrFileTooLarge.Code, appErr.Code)
}

func TestCSVStopsAtBlankRow(t *testing.T) {
	input := "id,name\nS1,Alice\n,\nS2,Bob\n"
	src, err := Open(strings.NewReader(input), "a.csv", 0, Limits{})
	require.NoError(t, err)
	defer src.Close() //nolint:errcheck

	rows := drain(t, src)
	require.Len(t, rows, 1)
	assert.Equal(t, "S1", rows[0].Values["id"])
}

func TestCSVNoHeader(t *testing.T) {
	_, err := Open(strings.NewReader(""), "a.csv", 0, Limits{})
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrMalformedFile.Code, appErr.Code)
}

func TestCSVMalformedQuoting(t *testing.T) {
	input := "id,name\nS1,\"unterminated\n"
	src, err := Open(strings.NewReader(input), "a.csv", 0, Limits{})
	require.NoError(t, err)
	defer src.Close() //nolint:errcheck

	_, err = src.Next()
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrMalformedFile.Code, appErr.Code)
}

func TestCSVRaggedRows(t *testing.T) {
	input := "id,name,score\nS1,Alice\nS2,Bob,88,extra\n"
	src, err := Open(strings.NewReader(input), "a.csv", 0, Limits{})
	require.NoError(t, err)
	defer src.Close() //nolint:errcheck

	rows := drain(t, src)
	require.Len(t, rows, 2)
	_, hasScore := rows[0].Values["score"]
	assert.False(t, hasScore)
	assert.Equal(t, "88", rows[1].Values["score"])
}

func buildXLSX(t *testing.T, rows [][]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return buf.Bytes()
}

func TestOpenXLSX(t *testing.T) {
	payload := buildXLSX(t, [][]interface{}{
		{"Student ID", "Name", "Attendance"},
		{"S1", "Alice", 93.5},
		{"S2", "Bob", 71},
	})

	src, err := Open(bytes.NewReader(payload), "roster.xlsx", int64(len(payload)), Limits{})
	require.NoError(t, err)
	defer src.Close() //nolint:errcheck

	assert.Equal(t, []string{"Student ID", "Name", "Attendance"}, src.Headers())
	rows := drain(t, src)
	require.Len(t, rows, 2)
	assert.Equal(t, "Alice", rows[0].Values["Name"])
	assert.Equal(t, "93.5", rows[0].Values["Attendance"])
	assert.Equal(t, 1, rows[1].Index)
}

func TestOpenXLSXStopsAtBlankRow(t *testing.T) {
	payload := buildXLSX(t, [][]interface{}{
		{"id", "name"},
		{"S1", "Alice"},
		{"", ""},
		{"S2", "Bob"},
	})

	src, err := Open(bytes.NewReader(payload), "roster.xlsx", int64(len(payload)), Limits{})
	require.NoError(t, err)
	defer src.Close() //nolint:errcheck

	rows := drain(t, src)
	require.Len(t, rows, 1)
}

func TestOpenXLSXMalformed(t *testing.T) {
	_, err := Open(strings.NewReader("not a zip container"), "roster.xlsx", 19, Limits{})
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrMalformedFile.Code, appErr.Code)
}
