// Package framelog records raw bus frames as hex lines for offline analysis.
//
// Each line has the form
//
//	2025-01-02T15:04:05.000000000Z,lin,050102030405060708
package framelog

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// lineFormatter renders an entry as "time,bus,HEX".
type lineFormatter struct{}

func (lineFormatter) Format(e *logrus.Entry) ([]byte, error) {
	bus, _ := e.Data["bus"].(string)
	return []byte(fmt.Sprintf("%s,%s,%s\n", e.Time.UTC().Format(time.RFC3339Nano), bus, e.Message)), nil
}

// Recorder appends frames to a writer. It satisfies link.FrameRecorder.
type Recorder struct {
	logger *logrus.Logger
	closer io.Closer
}

// New records to w. The caller owns w.
func New(w io.Writer) *Recorder {
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(lineFormatter{})
	return &Recorder{logger: logger}
}

// Open appends to the file at path, creating it if needed.
func Open(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame log %q: %w", path, err)
	}
	r := New(f)
	r.closer = f
	return r, nil
}

// Record writes one frame. Empty frames are skipped.
func (r *Recorder) Record(bus string, frame []byte) {
	if len(frame) == 0 {
		return
	}
	r.logger.WithField("bus", bus).Info(strings.ToUpper(hex.EncodeToString(frame)))
}

// Close closes the file opened by Open.
func (r *Recorder) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}
