// Package streaming implements the server-sent-events pipeline: a frame
// splitter that tolerates vendor SSE quirks, and a client-side writer that
// guarantees per-dialect framing.
//
// Each stage is a finite, non-restartable sequence; closing the input
// channel is how a stage signals "done" to the next one.
package streaming

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"

	"github.com/plexus/gateway/common/logger"
)

// Frame is one raw SSE event as read from (or written to) the wire: an
// optional event name plus its (possibly multi-line) data payload.
type Frame struct {
	Event string
	Data  []byte
}

// MaxLineBuffer bounds a single SSE line; providers occasionally emit large
// tool-argument fragments in one data: line.
const MaxLineBuffer = 1 << 20 // 1MB

// ErrTruncated is the terminal error reported by Split's error func when the
// underlying reader reaches a plain EOF mid-frame, with data buffered but
// no blank-line terminator seen. It marks a stream cut short, distinct from
// one that ended cleanly; a scanner or read error is reported as itself.
var ErrTruncated = errors.New("sse: stream truncated mid-frame")

// Split reads raw SSE bytes from r and sends each decoded Frame on the
// returned channel, closing it once r is exhausted or errors. Comment lines
// (leading ':') are ignored; lines within one event are joined by '\n'; a
// blank line terminates an event.
//
// The returned func reports how the stream ended: nil for a clean EOF with
// every frame terminated, the scanner's error if the underlying read
// failed, or ErrTruncated for an incomplete trailing frame dropped at EOF.
// It must only be called after the returned channel has been fully drained
// and is closed — the close happens-before its result is ready.
func Split(r io.Reader) (<-chan Frame, func() error) {
	out := make(chan Frame, 64)
	var finalErr error

	go func() {
		defer close(out)

		scanner := bufio.NewScanner(r)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, MaxLineBuffer)

		var event string
		var data bytes.Buffer
		haveData := false

		flush := func() {
			if !haveData {
				event = ""
				return
			}
			out <- Frame{Event: event, Data: bytes.TrimSuffix(data.Bytes(), []byte("\n"))}
			event = ""
			data.Reset()
			haveData = false
		}

		for scanner.Scan() {
			line := scanner.Text()

			switch {
			case line == "":
				flush()
			case strings.HasPrefix(line, ":"):
				// comment, ignored
			case strings.HasPrefix(line, "event:"):
				event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
				data.WriteByte('\n')
				haveData = true
			default:
				// unrecognized field, ignored per SSE spec
			}
		}

		if err := scanner.Err(); err != nil {
			finalErr = err
			logger.L().Warn("sse split: scanner error, stream truncated", zap.Error(err))
			return
		}

		if haveData {
			finalErr = ErrTruncated
			logger.L().Warn("sse split: incomplete trailing frame dropped at EOF")
		}
	}()

	return out, func() error { return finalErr }
}

// Writer emits Frames to a client in the wire format SSE requires,
// flushing after every write so streaming latency is not buffered away.
type Writer struct {
	w       io.Writer
	flusher interface{ Flush() }
}

func NewWriter(w io.Writer, flusher interface{ Flush() }) *Writer {
	return &Writer{w: w, flusher: flusher}
}

func (w *Writer) WriteFrame(f Frame) error {
	var b bytes.Buffer
	if f.Event != "" {
		b.WriteString("event: ")
		b.WriteString(f.Event)
		b.WriteByte('\n')
	}
	for _, line := range strings.Split(string(f.Data), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	if _, err := w.w.Write(b.Bytes()); err != nil {
		return errors.Wrap(err, "write sse frame")
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}
