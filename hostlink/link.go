// Package hostlink carries line-oriented text between the bridge and its
// host: commands in, acknowledgements and reports out.
package hostlink

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("hostlink: closed")

// Line is one received command line stamped with its arrival time.
type Line struct {
	Text     string
	Received time.Time
}

// Channel is the host side of the bridge. TryReadLine never blocks.
type Channel interface {
	TryReadLine() (Line, bool)
	WriteLine(s string) error
}

const (
	// DefaultBacklog bounds how many unread lines a link buffers.
	DefaultBacklog = 64
	// MaxLineLen is the longest accepted command line. Longer lines are
	// discarded up to their newline and reading continues.
	MaxLineLen = 4096
)

// Stream adapts a reader/writer pair. A single goroutine reads lines into a
// buffered channel so the control loop can poll without blocking.
type Stream struct {
	w      io.Writer
	closer io.Closer
	now    func() time.Time
	lines  chan Line

	mu     sync.Mutex
	err    error
	closed bool
	done   chan struct{}
}

// NewStream starts reading lines from r. now stamps each line; nil means
// time.Now.
func NewStream(r io.Reader, w io.Writer, now func() time.Time) *Stream {
	if now == nil {
		now = time.Now
	}
	s := &Stream{
		w:     w,
		now:   now,
		lines: make(chan Line, DefaultBacklog),
		done:  make(chan struct{}),
	}
	go s.readLoop(r)
	return s
}

// OpenSerial opens a serial port as a host link.
func OpenSerial(path string, baud int, now func() time.Time) (*Stream, error) {
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", path, err)
	}
	s := NewStream(port, port, now)
	s.closer = port
	return s, nil
}

func (s *Stream) readLoop(r io.Reader) {
	defer close(s.done)
	br := bufio.NewReaderSize(r, MaxLineLen)
	overlong := false
	for {
		chunk, err := br.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			overlong = true
			continue
		}
		if !overlong {
			if text := strings.TrimSpace(string(chunk)); text != "" {
				s.lines <- Line{Text: text, Received: s.now()}
			}
		}
		overlong = false
		if err != nil {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			return
		}
	}
}

// TryReadLine returns the next buffered line, if any.
func (s *Stream) TryReadLine() (Line, bool) {
	select {
	case l := <-s.lines:
		return l, true
	default:
		return Line{}, false
	}
}

// WriteLine writes s followed by a newline.
func (s *Stream) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_, err := io.WriteString(s.w, line+"\n")
	return err
}

// Err reports why reading stopped; nil while the reader is running.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the reader goroutine exits.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Close closes the underlying port, if the stream owns one.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Queue is an in-memory Channel fed by Push. Output lines go to out.
type Queue struct {
	lines chan Line
	now   func() time.Time
	out   func(string)
}

// NewQueue creates a queue holding up to size unread lines.
func NewQueue(size int, now func() time.Time, out func(string)) *Queue {
	if size <= 0 {
		size = DefaultBacklog
	}
	if now == nil {
		now = time.Now
	}
	return &Queue{lines: make(chan Line, size), now: now, out: out}
}

// Push enqueues a command line. It reports false when the queue is full.
func (q *Queue) Push(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return true
	}
	select {
	case q.lines <- Line{Text: text, Received: q.now()}:
		return true
	default:
		return false
	}
}

func (q *Queue) TryReadLine() (Line, bool) {
	select {
	case l := <-q.lines:
		return l, true
	default:
		return Line{}, false
	}
}

func (q *Queue) WriteLine(s string) error {
	if q.out != nil {
		q.out(s)
	}
	return nil
}
