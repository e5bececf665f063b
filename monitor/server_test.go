package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusBeforeAndAfterReport(t *testing.T) {
	s := New(nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	s.broadcast([]byte(`{"timestamp":100}`))
	resp, err = http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 100, body["timestamp"])
}

func TestHealth(t *testing.T) {
	s := New(nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var h health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, "ok", h.Status)
}

func TestPublishNeverBlocks(t *testing.T) {
	s := New(nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < reportBacklog*4; i++ {
			s.PublishReport([]byte(`{}`))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PublishReport blocked")
	}
	assert.Equal(t, uint64(reportBacklog*3), s.dropped)
}

func TestWebSocketStream(t *testing.T) {
	s := New(nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer c.Close()
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	payload := []byte(`{"timestamp":5,"dyno":{"state":"enabled"}}`)
	s.PublishReport(payload)
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, got, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	c.Close()
	require.Eventually(t, func() bool { return s.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

type stallingClient struct {
	entered chan struct{}
	release chan struct{}
}

func (c *stallingClient) SetWriteDeadline(time.Time) error { return nil }
func (c *stallingClient) WriteMessage(int, []byte) error {
	close(c.entered)
	<-c.release
	return nil
}
func (c *stallingClient) WriteControl(int, []byte, time.Time) error { return nil }
func (c *stallingClient) Close() error                               { return nil }

func TestSlowClientDoesNotBlockStatus(t *testing.T) {
	s := New(nil)
	slow := &stallingClient{entered: make(chan struct{}), release: make(chan struct{})}
	s.clients[slow] = true

	done := make(chan struct{})
	go func() {
		s.broadcast([]byte(`{"timestamp":7}`))
		close(done)
	}()
	<-slow.entered

	served := make(chan int, 2)
	go func() {
		for _, path := range []string{"/status", "/healthz"} {
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			served <- rec.Code
		}
	}()
	for i := 0; i < 2; i++ {
		select {
		case code := <-served:
			assert.Equal(t, http.StatusOK, code)
		case <-time.After(time.Second):
			t.Fatal("handler blocked behind a stalled client")
		}
	}
	close(slow.release)
	<-done
}
