package debug

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/peripheral-blue/util"
	"github.com/user/peripheral-blue/wire/att"
	"github.com/user/peripheral-blue/wire/frame"
	"github.com/user/peripheral-blue/wire/gatt"
)

// EnvVar turns frame capture on for socket radios when set to "1".
const EnvVar = "WIRE_DEBUG"

// FrameLogger writes human-readable JSON lines of transport frames to
// {dataDir}/debug/{name}/frames.jsonl.
// These files are WRITE-ONLY and never read by production code
type FrameLogger struct {
	path    string
	enabled bool
	mu      sync.Mutex
}

// FrameLog is one captured frame.
type FrameLog struct {
	Timestamp      string `json:"timestamp"`
	Direction      string `json:"direction"` // "tx" or "rx"
	Central        string `json:"central"`
	Kind           string `json:"kind"`
	RequestID      uint64 `json:"request_id,omitempty"`
	Characteristic string `json:"characteristic,omitempty"`
	Offset         uint64 `json:"offset,omitempty"`
	Status         string `json:"status,omitempty"`
	PayloadLen     int    `json:"payload_len"`
	PayloadHex     string `json:"payload_hex,omitempty"`
}

// EnabledFromEnv reports whether EnvVar asks for capture.
func EnabledFromEnv() bool {
	return os.Getenv(EnvVar) == "1"
}

// NewFrameLogger creates a logger for the named peripheral. A disabled
// logger drops everything.
func NewFrameLogger(name string, enabled bool) *FrameLogger {
	if !enabled {
		return &FrameLogger{}
	}

	dir := filepath.Join(util.GetDataDir(), "debug", name)
	os.MkdirAll(dir, 0755)

	return &FrameLogger{
		path:    filepath.Join(dir, "frames.jsonl"),
		enabled: true,
	}
}

func (d *FrameLogger) Enabled() bool { return d.enabled }

// Path is the capture file, empty when disabled.
func (d *FrameLogger) Path() string { return d.path }

// LogFrame appends f.
func (d *FrameLogger) LogFrame(direction, central string, f *frame.Frame) {
	if !d.enabled {
		return
	}

	entry := FrameLog{
		Timestamp:  time.Now().Format(time.RFC3339Nano),
		Direction:  direction,
		Central:    central,
		Kind:       f.Kind.String(),
		RequestID:  f.RequestID,
		Offset:     f.Offset,
		PayloadLen: len(f.Payload),
	}
	if f.Characteristic != (gatt.UUID{}) {
		entry.Characteristic = f.Characteristic.String()
	}
	if f.Kind == frame.KindResponse {
		entry.Status = att.StatusName(f.Status)
	}
	if len(f.Payload) > 0 {
		entry.PayloadHex = hex.EncodeToString(f.Payload)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.appendJSONL(entry)
}

// appendJSONL appends a JSON line to the capture file
func (d *FrameLogger) appendJSONL(data interface{}) {
	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return // best-effort
	}
	defer f.Close()

	line, err := json.Marshal(data)
	if err != nil {
		return
	}

	f.Write(append(line, '\n'))
}
