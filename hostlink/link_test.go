package hostlink

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitLine(t *testing.T, c Channel) Line {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l, ok := c.TryReadLine(); ok {
			return l
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no line received")
	return Line{}
}

func TestStreamReadsTrimmedLines(t *testing.T) {
	stamp := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	var out bytes.Buffer
	s := NewStream(strings.NewReader("speed 500\r\n\n  estop  \n"), &out, func() time.Time { return stamp })

	l := waitLine(t, s)
	assert.Equal(t, "speed 500", l.Text)
	assert.Equal(t, stamp, l.Received)
	assert.Equal(t, "estop", waitLine(t, s).Text)

	<-s.Done()
	assert.Equal(t, io.EOF, s.Err())
	_, ok := s.TryReadLine()
	assert.False(t, ok)

	require.NoError(t, s.WriteLine("PONG:1"))
	assert.Equal(t, "PONG:1\n", out.String())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.WriteLine("x"), ErrClosed)
}

func TestStreamTryReadNeverBlocks(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	s := NewStream(r, io.Discard, nil)
	_, ok := s.TryReadLine()
	assert.False(t, ok)
	go func() { _, _ = w.Write([]byte("ping\n")) }()
	assert.Equal(t, "ping", waitLine(t, s).Text)
}

func TestStreamSurvivesOverlongLine(t *testing.T) {
	noise := strings.Repeat("x", 70*1024)
	s := NewStream(strings.NewReader("ping\n"+noise+"\nestop\n"+noise), io.Discard, nil)

	assert.Equal(t, "ping", waitLine(t, s).Text)
	assert.Equal(t, "estop", waitLine(t, s).Text)
	<-s.Done()
	assert.Equal(t, io.EOF, s.Err())
	_, ok := s.TryReadLine()
	assert.False(t, ok, "unterminated noise at EOF is dropped")
}

func TestQueue(t *testing.T) {
	var got []string
	q := NewQueue(2, nil, func(s string) { got = append(got, s) })
	assert.True(t, q.Push("enable_drive"))
	assert.True(t, q.Push(" "))
	assert.True(t, q.Push("speed 10"))
	assert.False(t, q.Push("speed 20"), "full")

	l, ok := q.TryReadLine()
	require.True(t, ok)
	assert.Equal(t, "enable_drive", l.Text)
	require.NoError(t, q.WriteLine("Drive motor enabled"))
	assert.Equal(t, []string{"Drive motor enabled"}, got)
}
