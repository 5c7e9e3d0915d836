package debug

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/peripheral-blue/util"
	"github.com/user/peripheral-blue/wire/att"
	"github.com/user/peripheral-blue/wire/frame"
	"github.com/user/peripheral-blue/wire/gatt"
)

func TestFrameLoggerWritesJSONL(t *testing.T) {
	t.Setenv(util.DataDirEnv, t.TempDir())

	d := NewFrameLogger("Heart", true)
	require.True(t, d.Enabled())

	d.LogFrame("rx", "phone-1", &frame.Frame{Kind: frame.KindWrite, RequestID: 3, Characteristic: gatt.UUID16(0x2A39), Payload: []byte{0x01, 0xFF}})
	d.LogFrame("tx", "phone-1", &frame.Frame{Kind: frame.KindResponse, RequestID: 3, Status: att.ErrWriteNotPermitted})

	f, err := os.Open(d.Path())
	require.NoError(t, err)
	defer f.Close()

	var entries []FrameLog
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e FrameLog
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.Len(t, entries, 2)

	assert.Equal(t, "rx", entries[0].Direction)
	assert.Equal(t, "write", entries[0].Kind)
	assert.Equal(t, "01ff", entries[0].PayloadHex)
	assert.Equal(t, gatt.UUID16(0x2A39).String(), entries[0].Characteristic)

	assert.Equal(t, "response", entries[1].Kind)
	assert.Equal(t, "Write Not Permitted", entries[1].Status)
	assert.Empty(t, entries[1].Characteristic)
}

func TestDisabledFrameLoggerWritesNothing(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(util.DataDirEnv, dir)
	t.Setenv(EnvVar, "")

	d := NewFrameLogger("Heart", EnabledFromEnv())
	assert.False(t, d.Enabled())
	assert.Empty(t, d.Path())
	d.LogFrame("rx", "phone-1", &frame.Frame{Kind: frame.KindRead})

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
