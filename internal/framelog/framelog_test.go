package framelog

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Record(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf)

	r.Record("lin", []byte{0x05, 0x0a, 0xff})
	r.Record("can", nil)
	r.Record("can", []byte{0x10})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2, "empty frames MUST NOT be recorded")

	fields := strings.Split(lines[0], ",")
	require.Len(t, fields, 3)
	_, err := time.Parse(time.RFC3339Nano, fields[0])
	assert.NoError(t, err, "timestamp MUST be RFC3339")
	assert.Equal(t, "lin", fields[1])
	assert.Equal(t, "050AFF", fields[2], "frame MUST be upper-case hex without delimiters")

	assert.True(t, strings.HasSuffix(lines[1], ",can,10"))
}

func TestOpen_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames.log")

	r, err := Open(path)
	require.NoError(t, err)
	r.Record("lin", []byte{0x01})
	require.NoError(t, r.Close())
	require.NoError(t, r.Close(), "second Close MUST be a no-op")

	r, err = Open(path)
	require.NoError(t, err)
	r.Record("can", []byte{0x02})
	require.NoError(t, r.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"), "reopening MUST append")
}

func TestOpen_BadPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "frames.log"))
	assert.Error(t, err)
}
