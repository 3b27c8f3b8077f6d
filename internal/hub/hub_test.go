package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSubscriber struct {
	id     string
	mu     sync.Mutex
	msgs   chan Message
	closed bool
	full   bool
}

func newFakeSubscriber(id string) *fakeSubscriber {
	return &fakeSubscriber{id: id, msgs: make(chan Message, 16)}
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Send(msg Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.full {
		return false
	}
	f.msgs <- msg
	return true
}

func (f *fakeSubscriber) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSubscriber) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSubscriber) next(t *testing.T) Message {
	t.Helper()
	select {
	case msg := <-f.msgs:
		return msg
	case <-time.After(time.Second):
		t.Fatalf("subscriber %s: no message received", f.id)
		return Message{}
	}
}

func (f *fakeSubscriber) expectNone(t *testing.T) {
	t.Helper()
	select {
	case msg := <-f.msgs:
		t.Fatalf("subscriber %s: unexpected message %s", f.id, msg.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func startHub(t *testing.T, opts ...Option) *Hub {
	t.Helper()
	h := New(zap.NewNop(), opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h
}

func decodeStatus(t *testing.T, msg Message) StatusMessage {
	t.Helper()
	require.Equal(t, TypeCardReaderConnected, msg.Type)
	var status StatusMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &status))
	return status
}

func TestJoinReceivesCurrentStatus(t *testing.T) {
	h := startHub(t)

	offline := newFakeSubscriber("offline")
	require.NoError(t, h.Join(offline))
	assert.False(t, decodeStatus(t, offline.next(t)).IsOnline)

	h.PublishStatus(true)
	assert.True(t, decodeStatus(t, offline.next(t)).IsOnline)

	online := newFakeSubscriber("online")
	require.NoError(t, h.Join(online))
	assert.True(t, decodeStatus(t, online.next(t)).IsOnline)

	// The snapshot goes to the newcomer only.
	offline.expectNone(t)
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	h := startHub(t)

	a := newFakeSubscriber("a")
	b := newFakeSubscriber("b")
	require.NoError(t, h.Join(a))
	require.NoError(t, h.Join(b))
	a.next(t)
	b.next(t)

	h.PublishScan("12AB")

	for _, sub := range []*fakeSubscriber{a, b} {
		msg := sub.next(t)
		assert.Equal(t, TypeTCPData, msg.Type)
		assert.JSONEq(t, `{"type":"tcpData","uid":"12AB"}`, string(msg.Payload))
	}
}

func TestBroadcastWithoutSubscribersIsDropped(t *testing.T) {
	h := startHub(t)

	h.PublishScan("12AB")
	h.PublishStatus(true)
	require.Eventually(t, h.Online, time.Second, 5*time.Millisecond)

	sub := newFakeSubscriber("late")
	require.NoError(t, h.Join(sub))

	// Only the status snapshot arrives, the scan was not queued.
	assert.True(t, decodeStatus(t, sub.next(t)).IsOnline)
	sub.expectNone(t)
}

func TestStatusOrderIsPreserved(t *testing.T) {
	h := startHub(t)

	sub := newFakeSubscriber("ordered")
	require.NoError(t, h.Join(sub))
	sub.next(t)

	h.PublishStatus(true)
	h.PublishStatus(false)
	h.PublishStatus(true)

	assert.True(t, decodeStatus(t, sub.next(t)).IsOnline)
	assert.False(t, decodeStatus(t, sub.next(t)).IsOnline)
	assert.True(t, decodeStatus(t, sub.next(t)).IsOnline)
}

func TestLeaveClosesSubscriber(t *testing.T) {
	h := startHub(t)

	sub := newFakeSubscriber("leaver")
	require.NoError(t, h.Join(sub))
	sub.next(t)

	h.Leave(sub)
	assert.Eventually(t, func() bool { return h.Count() == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, sub.isClosed())

	// Leaving twice is harmless.
	h.Leave(sub)
}

func TestFullSubscriberIsDropped(t *testing.T) {
	h := startHub(t)

	slow := newFakeSubscriber("slow")
	fast := newFakeSubscriber("fast")
	require.NoError(t, h.Join(slow))
	require.NoError(t, h.Join(fast))
	slow.next(t)
	fast.next(t)

	slow.mu.Lock()
	slow.full = true
	slow.mu.Unlock()

	h.PublishScan("12AB")

	assert.Equal(t, TypeTCPData, fast.next(t).Type)
	assert.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, slow.isClosed())
}

func TestMaxSubscribersOneKeepsLatest(t *testing.T) {
	h := startHub(t, WithMaxSubscribers(1))

	first := newFakeSubscriber("first")
	second := newFakeSubscriber("second")
	require.NoError(t, h.Join(first))
	first.next(t)
	require.NoError(t, h.Join(second))
	second.next(t)

	assert.Eventually(t, first.isClosed, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.Count())

	h.PublishScan("12AB")
	assert.Equal(t, TypeTCPData, second.next(t).Type)
	first.expectNone(t)
}

func TestCloseDisconnectsEveryone(t *testing.T) {
	h := New(zap.NewNop())
	go h.Run(context.Background())

	a := newFakeSubscriber("a")
	require.NoError(t, h.Join(a))
	a.next(t)

	h.Close()
	h.Close()

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	assert.True(t, a.isClosed())

	late := newFakeSubscriber("late")
	assert.ErrorIs(t, h.Join(late), ErrClosed)
	assert.True(t, late.isClosed())

	// Publishing after close must not block.
	h.PublishScan("12AB")
}
