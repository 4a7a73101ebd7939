package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/gorilla/websocket"

	"github.com/live-translate-lab/internal/logging"
)

// ErrDeviceFailure marks capture-source errors that are fatal to a listening
// session: the source could not be opened, or its read failure budget was
// exhausted. Errors are wrapped so callers can test with errors.Is.
var ErrDeviceFailure = errors.New("audio device failure")

// Frame is one fixed-size block of signed 16-bit PCM samples in arrival order.
type Frame []int16

// FrameSource produces consecutive audio frames. ReadFrame blocks until a
// full frame is available or the source fails; implementations own the
// underlying device/stream and release it on Close.
type FrameSource interface {
	ReadFrame() (Frame, error)
	Close() error
}

// WSSource reads PCM frames from a capture daemon over a websocket. Each
// binary message carries exactly one frame of little-endian int16 samples.
// The audio device itself lives in the daemon; this client is the process
// boundary for capture.
type WSSource struct {
	conn      *websocket.Conn
	frameSize int
}

// DialWSSource connects to the capture daemon. A dial failure means the
// audio path cannot be opened at all and is reported as a device failure.
func DialWSSource(url string, frameSize int) (*WSSource, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrDeviceFailure, url, err)
	}
	logging.Infow("capture: connected to audio source", "url", url, "frame_size", frameSize)
	return &WSSource{conn: conn, frameSize: frameSize}, nil
}

// ReadFrame blocks on the websocket and returns the next frame. Messages of
// the wrong type or length are errors; the segmenter decides whether to
// retry or give up.
func (w *WSSource) ReadFrame() (Frame, error) {
	msgType, data, err := w.conn.ReadMessage()
	if err != nil {
		// a deliberate close, remote or local, ends the stream cleanly
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, net.ErrClosed) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("capture read: %w", err)
	}
	if msgType != websocket.BinaryMessage {
		return nil, fmt.Errorf("capture read: unexpected message type %d", msgType)
	}
	if len(data) != w.frameSize*2 {
		return nil, fmt.Errorf("capture read: frame size mismatch: want=%d got=%d bytes", w.frameSize*2, len(data))
	}
	frame := make(Frame, w.frameSize)
	for i := range frame {
		frame[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return frame, nil
}

func (w *WSSource) Close() error {
	return w.conn.Close()
}
