package link

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigRecord(t *testing.T) {
	rec, err := ParseConfigRecord([]byte{'W', 'R', 'W', 0x01, 0x02})
	require.NoError(t, err)
	assert.Equal(t, ConfigMagic, rec.Magic)
	assert.Equal(t, []byte{0x01, 0x02}, rec.Body)

	b, ok := rec.Byte(1)
	assert.True(t, ok)
	assert.Equal(t, byte(0x02), b)
	_, ok = rec.Byte(2)
	assert.False(t, ok, "out of range index MUST report false")
}

func TestParseConfigRecord_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"too short", []byte{'W', 'R'}},
		{"wrong magic", []byte{'W', 'R', 'X', 0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfigRecord(tt.data)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestConfigRecord_Equal(t *testing.T) {
	a, _ := ParseConfigRecord([]byte("WRW\x01"))
	b, _ := ParseConfigRecord([]byte("WRW\x01"))
	c, _ := ParseConfigRecord([]byte("WRW\x02"))

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))
	assert.True(t, (*ConfigRecord)(nil).Equal(nil))
}

func TestParseConfigRecord_Copies(t *testing.T) {
	data := []byte("WRW\x07")
	rec, err := ParseConfigRecord(data)
	require.NoError(t, err)
	data[3] = 0x00
	assert.Equal(t, byte(0x07), rec.Body[0], "record MUST NOT alias the input")
}
