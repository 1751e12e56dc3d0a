// internal/link/reader.go
package link

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"link-service/internal/eventlog"
	"link-service/internal/model"
	"link-service/internal/transport"
)

// maxEmptyReads matches bufio's tolerance for reads returning (0, nil)
const maxEmptyReads = 100

// reader turns the inbound byte stream of one link into Received entries.
// It never calls into the manager; the manager watches done.
type reader struct {
	stream   transport.Stream
	events   *eventlog.Log
	linkID   uuid.UUID
	logger   *zap.Logger
	bufSize  int
	maxLine  int
	stopping atomic.Bool
	done     chan struct{}

	// err is the terminal read error; valid once done is closed.
	err error

	bytesRead atomic.Int64
	lines     atomic.Int64
}

func newReader(stream transport.Stream, events *eventlog.Log, linkID uuid.UUID, opts Options, logger *zap.Logger) *reader {
	return &reader{
		stream:  stream,
		events:  events,
		linkID:  linkID,
		logger:  logger,
		bufSize: opts.ReadBufferSize,
		maxLine: opts.MaxLineLength,
		done:    make(chan struct{}),
	}
}

func (r *reader) start() {
	go r.run()
}

// stop marks the exit as requested. The caller closes the stream to
// unblock a pending read.
func (r *reader) stop() {
	r.stopping.Store(true)
}

func (r *reader) run() {
	defer close(r.done)

	buf := make([]byte, r.bufSize)
	var pending []byte
	empty := 0

	for {
		n, err := r.stream.Read(buf)
		if n > 0 {
			empty = 0
			r.bytesRead.Add(int64(n))
			pending = r.consume(pending, buf[:n])
		}
		if err == nil && n == 0 {
			empty++
			if empty < maxEmptyReads {
				continue
			}
			err = io.ErrNoProgress
		}
		if err != nil {
			r.finish(pending, err)
			return
		}
	}
}

// consume appends data to pending, emits every complete line and returns
// the unterminated remainder.
func (r *reader) consume(pending, data []byte) []byte {
	pending = append(pending, data...)

	start := 0
	for {
		idx := bytes.IndexByte(pending[start:], '\n')
		if idx < 0 {
			break
		}
		r.emit(pending[start : start+idx])
		start += idx + 1
	}
	pending = append(pending[:0], pending[start:]...)

	if r.maxLine > 0 && len(pending) > r.maxLine {
		r.logger.Debug("Flushing overlong line", zap.Int("bytes", len(pending)))
		r.emit(pending)
		pending = pending[:0]
	}
	return pending
}

func (r *reader) emit(raw []byte) {
	line := strings.TrimSpace(string(raw))
	if line == "" {
		return
	}
	r.lines.Add(1)
	r.events.Append(model.CategoryReceived, line, &r.linkID)
}

func (r *reader) finish(pending []byte, err error) {
	if len(pending) > 0 {
		r.logger.Debug("Discarding unterminated line", zap.Int("bytes", len(pending)))
	}

	if r.stopping.Load() {
		r.logger.Debug("Reader stopped", zap.Error(err))
	} else {
		r.err = fmt.Errorf("%w: %w", ErrTransportReadFailed, err)
		if errors.Is(err, io.EOF) {
			r.logger.Info("Peer closed the link")
		} else {
			r.logger.Warn("Link read failed", zap.Error(err))
		}
		r.stream.Close()
	}

	r.events.Info("Bluetooth link closed", &r.linkID)
}
