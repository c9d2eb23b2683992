package excel

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	sheet := Sheet{
		Headers: []string{"姓名", "学号", "出生日期", "语文"},
		Rows: [][]interface{}{
			{"张三", "20230001", time.Date(2010, 9, 1, 0, 0, 0, 0, time.UTC), 88.5},
			{"李四", "20230002", time.Date(2011, 2, 14, 0, 0, 0, 0, time.UTC), 92},
		},
	}

	content, err := Write(sheet)
	require.NoError(t, err)

	rows, err := Read(bytes.NewReader(content), len(sheet.Headers))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, sheet.Headers, rows[0])
	require.Equal(t, "张三", rows[1][0])
	require.Equal(t, "20230001", rows[1][1])

	birthday, err := ParseDate(rows[1][2])
	require.NoError(t, err)
	require.Equal(t, 2010, birthday.Year())
	require.Equal(t, time.September, birthday.Month())
	require.Equal(t, 1, birthday.Day())
}

func TestReadPadsShortRows(t *testing.T) {
	content, err := Write(Sheet{
		Headers: []string{"姓名", "地址"},
		Rows:    [][]interface{}{{"张三"}},
	})
	require.NoError(t, err)

	rows, err := Read(bytes.NewReader(content), 2)
	require.NoError(t, err)
	require.Len(t, rows[1], 2)
	require.Equal(t, "", rows[1][1])
}

func TestWriteRequiresHeaders(t *testing.T) {
	_, err := Write(Sheet{})
	require.Error(t, err)
}

func TestParseDate(t *testing.T) {
	cases := []string{"2010-09-01", "2010/09/01"}
	for _, raw := range cases {
		parsed, err := ParseDate(raw)
		require.NoError(t, err, raw)
		require.Equal(t, time.Date(2010, 9, 1, 0, 0, 0, 0, time.UTC), parsed, raw)
	}

	// 40422 is the Excel serial day for 2010-09-01.
	serial, err := ParseDate("40422")
	require.NoError(t, err)
	require.Equal(t, 2010, serial.Year())
	require.Equal(t, time.September, serial.Month())
	require.Equal(t, 1, serial.Day())

	_, err = ParseDate("not a date")
	require.Error(t, err)
}
