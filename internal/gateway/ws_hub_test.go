package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFeed struct {
	mu         sync.Mutex
	snapshots  map[uuid.UUID][]byte
	streams    map[uuid.UUID]chan []byte
	subscribed chan uuid.UUID
	cancelled  chan uuid.UUID
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		snapshots:  make(map[uuid.UUID][]byte),
		streams:    make(map[uuid.UUID]chan []byte),
		subscribed: make(chan uuid.UUID, 8),
		cancelled:  make(chan uuid.UUID, 8),
	}
}

func (f *fakeFeed) stream(userID uuid.UUID) chan []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.streams[userID]
	if !ok {
		ch = make(chan []byte, 8)
		f.streams[userID] = ch
	}
	return ch
}

func (f *fakeFeed) LastSnapshot(_ context.Context, userID uuid.UUID) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots[userID], nil
}

func (f *fakeFeed) Changes(ctx context.Context, userID uuid.UUID) (<-chan []byte, error) {
	ch := f.stream(userID)
	f.subscribed <- userID
	go func() {
		<-ctx.Done()
		f.cancelled <- userID
	}()
	return ch, nil
}

func recvEnvelope(t *testing.T, ch <-chan []byte) envelope {
	t.Helper()
	select {
	case data, ok := <-ch:
		require.True(t, ok, "send channel closed")
		var env envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return envelope{}
}

func waitFor(t *testing.T, ch <-chan uuid.UUID, want uuid.UUID) {
	t.Helper()
	select {
	case got := <-ch:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func startHub(t *testing.T, feed ChangeFeed) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := NewHub(feed, discardLogger())
	go hub.Run(ctx)
	return hub
}

func TestHub_SnapshotThenChanges(t *testing.T) {
	feed := newFakeFeed()
	hub := startHub(t, feed)
	userID := uuid.New()
	client := &Client{hub: hub, send: make(chan []byte, 8), logger: discardLogger()}

	hub.register <- client
	hub.subscribe <- subscription{client: client, userID: userID, snapshot: []byte(`{"version":1}`)}

	env := recvEnvelope(t, client.send)
	assert.Equal(t, "snapshot", env.Type)
	assert.Equal(t, userID.String(), env.UserID)
	assert.JSONEq(t, `{"version":1}`, string(env.Data))

	waitFor(t, feed.subscribed, userID)
	feed.stream(userID) <- []byte(`not json`)
	feed.stream(userID) <- []byte(`{"version":2}`)

	env = recvEnvelope(t, client.send)
	assert.Equal(t, "change", env.Type)
	assert.JSONEq(t, `{"version":2}`, string(env.Data))
}

func TestHub_SharesOneFeedPerUser(t *testing.T) {
	feed := newFakeFeed()
	hub := startHub(t, feed)
	userID := uuid.New()
	a := &Client{hub: hub, send: make(chan []byte, 8), logger: discardLogger()}
	b := &Client{hub: hub, send: make(chan []byte, 8), logger: discardLogger()}

	hub.subscribe <- subscription{client: a, userID: userID}
	hub.subscribe <- subscription{client: b, userID: userID}
	waitFor(t, feed.subscribed, userID)

	feed.stream(userID) <- []byte(`{"version":5}`)
	assert.Equal(t, "change", recvEnvelope(t, a.send).Type)
	assert.Equal(t, "change", recvEnvelope(t, b.send).Type)

	hub.unsubscribe <- subscription{client: a, userID: userID}
	select {
	case <-feed.cancelled:
		t.Fatal("feed released while a subscriber remains")
	case <-time.After(50 * time.Millisecond):
	}

	hub.unsubscribe <- subscription{client: b, userID: userID}
	waitFor(t, feed.cancelled, userID)
	assert.Len(t, feed.subscribed, 0)
}

func TestHub_UnregisterClosesSendAndReleasesFeed(t *testing.T) {
	feed := newFakeFeed()
	hub := startHub(t, feed)
	userID := uuid.New()
	client := &Client{hub: hub, send: make(chan []byte, 8), logger: discardLogger()}

	hub.register <- client
	hub.subscribe <- subscription{client: client, userID: userID}
	waitFor(t, feed.subscribed, userID)

	hub.unregister <- client
	waitFor(t, feed.cancelled, userID)

	select {
	case _, ok := <-client.send:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("send channel not closed")
	}
}

func TestHub_IgnoresSubscribeAfterUnregister(t *testing.T) {
	feed := newFakeFeed()
	hub := startHub(t, feed)
	client := &Client{hub: hub, send: make(chan []byte, 8), logger: discardLogger()}

	hub.unregister <- client
	select {
	case _, ok := <-client.send:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("send channel not closed")
	}

	hub.subscribe <- subscription{client: client, userID: uuid.New(), snapshot: []byte(`{}`)}
	select {
	case <-feed.subscribed:
		t.Fatal("feed subscribed for a gone client")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_SendsAfterStopDoNotBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(newFakeFeed(), discardLogger())
	go hub.Run(ctx)
	cancel()
	select {
	case <-hub.done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	client := &Client{hub: hub, send: make(chan []byte, 1), logger: discardLogger()}
	finished := make(chan int)
	go func() {
		queued := 0
		for i := 0; i < cap(hub.unregister)+10; i++ {
			if enqueue(hub, hub.unregister, client) {
				queued++
			}
			enqueue(hub, hub.subscribe, subscription{client: client, userID: uuid.New()})
		}
		finished <- queued
	}()

	select {
	case queued := <-finished:
		assert.LessOrEqual(t, queued, cap(hub.unregister))
	case <-time.After(2 * time.Second):
		t.Fatal("send to a stopped hub blocked")
	}
}

func TestServeWS_SubscribeReceivesSnapshot(t *testing.T) {
	feed := newFakeFeed()
	userID := uuid.New()
	feed.snapshots[userID] = []byte(`{"user_id":"` + userID.String() + `","version":3}`)
	hub := startHub(t, feed)

	srv := httptest.NewServer(ServeWS(hub, discardLogger()))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(wsMessage{Action: "subscribe", UserIDs: []string{"bogus", userID.String()}}))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var env envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "error", env.Type)
	assert.Contains(t, env.Error, "bogus")

	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "snapshot", env.Type)
	assert.JSONEq(t, string(feed.snapshots[userID]), string(env.Data))

	waitFor(t, feed.subscribed, userID)
	feed.stream(userID) <- []byte(`{"version":4}`)

	env = envelope{}
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "change", env.Type)
	assert.JSONEq(t, `{"version":4}`, string(env.Data))
}
