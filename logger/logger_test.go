package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    logrus.Level
		wantErr bool
	}{
		{"debug", logrus.DebugLevel, false},
		{"INFO", logrus.InfoLevel, false},
		{"warning", logrus.WarnLevel, false},
		{"trace", logrus.TraceLevel, false},
		{"", logrus.InfoLevel, false},
		{"loud", logrus.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestForTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	prev := GetLevel()
	SetLevel(logrus.DebugLevel)
	defer func() {
		SetLevel(prev)
		SetOutput(os.Stdout)
	}()

	For("peripheral").Info("powered on")
	assert.Contains(t, buf.String(), "component=peripheral")
	assert.Contains(t, buf.String(), "powered on")

	buf.Reset()
	DebugJSON(For("dispatch"), "request", map[string]interface{}{"offset": 2})
	assert.Contains(t, buf.String(), "request:")
	assert.Contains(t, buf.String(), "offset")

	buf.Reset()
	SetLevel(logrus.InfoLevel)
	DebugJSON(For("dispatch"), "request", map[string]interface{}{"offset": 2})
	assert.Empty(t, buf.String())
}

func TestToJSON(t *testing.T) {
	s, err := structpb.NewStruct(map[string]interface{}{"state": "advertising"})
	require.NoError(t, err)
	assert.Contains(t, ToJSON(s), `"state"`)
	assert.Contains(t, ToJSON(s), `"advertising"`)

	assert.Contains(t, ToJSON(map[string]interface{}{"centrals": 3}), "3")

	type sample struct {
		Name string `json:"name"`
	}
	assert.Equal(t, "{\n  \"name\": \"x\"\n}", ToJSON(sample{Name: "x"}))

	assert.Contains(t, ToJSON(make(chan int)), "<error:")
}

func TestPrefixHelpersRespectLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	SetLevel(logrus.WarnLevel)
	defer SetLevel(logrus.InfoLevel)

	Info("demo", "started %s", "quietly")
	Warn("demo", "queue %d full", 3)
	Error("demo", "boom")

	out := buf.String()
	assert.NotContains(t, out, "quietly")
	assert.Contains(t, out, "queue 3 full")
	assert.Contains(t, out, "component=demo")
	assert.Contains(t, out, "boom")
}
