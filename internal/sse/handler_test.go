package sse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/cardbridge/internal/hub"
)

type event struct {
	name string
	id   string
	data string
}

func readEvent(t *testing.T, r *bufio.Reader) event {
	t.Helper()

	var ev event
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if ev.name != "" {
				return ev
			}
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "id: "):
			ev.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func startStream(t *testing.T) (*hub.Hub, *bufio.Reader, *http.Response) {
	t.Helper()

	h := hub.New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	srv := httptest.NewServer(NewHandler(h, zap.NewNop()))

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = resp.Body.Close()
		srv.Close()
		cancel()
		<-h.Done()
	})

	return h, bufio.NewReader(resp.Body), resp
}

func TestStreamSnapshotAndScans(t *testing.T) {
	h, r, resp := startStream(t)

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	ev := readEvent(t, r)
	assert.Equal(t, hub.TypeCardReaderConnected, ev.name)
	assert.Equal(t, "1", ev.id)
	assert.JSONEq(t, `{"type":"cardReaderConnected","isOnline":false}`, ev.data)

	h.PublishScan("DEADBEEF")

	ev = readEvent(t, r)
	assert.Equal(t, hub.TypeTCPData, ev.name)
	assert.Equal(t, "2", ev.id)
	assert.JSONEq(t, `{"type":"tcpData","uid":"DEADBEEF"}`, ev.data)
}

func TestStreamEndsWhenHubCloses(t *testing.T) {
	h, r, _ := startStream(t)
	readEvent(t, r)
	require.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 5*time.Millisecond)

	h.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, err := r.ReadString('\n'); err != nil {
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after hub shutdown")
	}
}

func TestClientLeavesOnDisconnect(t *testing.T) {
	h, r, resp := startStream(t)
	readEvent(t, r)
	require.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 5*time.Millisecond)

	_ = resp.Body.Close()

	require.Eventually(t, func() bool { return h.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClientSendAfterClose(t *testing.T) {
	c := newClient()
	assert.True(t, c.Send(hub.NewScanMessage("A")))

	c.Close()
	c.Close()
	assert.False(t, c.Send(hub.NewScanMessage("B")))
}
