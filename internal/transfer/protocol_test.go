package transfer_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/scrapyard/internal/blobstore"
	"github.com/rudransh-shrivastava/scrapyard/internal/logx"
	"github.com/rudransh-shrivastava/scrapyard/internal/scraperr"
	"github.com/rudransh-shrivastava/scrapyard/internal/transfer"
	"github.com/stretchr/testify/require"
)

// fakeChannel is a direct in-process loopback implementation of
// transfer.Channel, standing in for a real *session.Manager-mediated
// WebRTC data channel so the protocol's request/response and chunk-framing
// logic can be exercised without a real peer connection. Inbound messages
// are processed by a single ordered worker goroutine per channel, matching
// the ordered-reliable delivery a real data channel guarantees (spec §5).
type fakeChannel struct {
	mu               sync.Mutex
	handlers         map[string][]func(peerID string, raw json.RawMessage)
	leaveHandlers    []func(peerID string)
	nameAsSeenByPeer string
	counterpart      *fakeChannel

	inbox chan inboxMessage
}

type inboxMessage struct {
	fromID string
	raw    json.RawMessage
}

func newFakeChannel(nameAsSeenByPeer string) *fakeChannel {
	c := &fakeChannel{
		handlers:         make(map[string][]func(string, json.RawMessage)),
		nameAsSeenByPeer: nameAsSeenByPeer,
		inbox:            make(chan inboxMessage, 4096),
	}
	go func() {
		for m := range c.inbox {
			c.dispatch(m.fromID, m.raw)
		}
	}()
	return c
}

func link(a, b *fakeChannel) {
	a.counterpart = b
	b.counterpart = a
}

func (c *fakeChannel) Send(_ string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if c.counterpart == nil {
		return nil
	}
	c.counterpart.inbox <- inboxMessage{fromID: c.nameAsSeenByPeer, raw: data}
	return nil
}

func (c *fakeChannel) OnMessage(msgType string, handler func(peerID string, raw json.RawMessage)) func() {
	c.mu.Lock()
	c.handlers[msgType] = append(c.handlers[msgType], handler)
	c.mu.Unlock()
	return func() {}
}

func (c *fakeChannel) OnPeerLeave(handler func(peerID string)) {
	c.mu.Lock()
	c.leaveHandlers = append(c.leaveHandlers, handler)
	c.mu.Unlock()
}

func (c *fakeChannel) dispatch(fromID string, raw json.RawMessage) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	c.mu.Lock()
	hs := append([]func(string, json.RawMessage){}, c.handlers[env.Type]...)
	c.mu.Unlock()
	for _, h := range hs {
		h(fromID, raw)
	}
}

func (c *fakeChannel) triggerLeave(peerID string) {
	c.mu.Lock()
	hs := append([]func(string){}, c.leaveHandlers...)
	c.mu.Unlock()
	for _, h := range hs {
		h(peerID)
	}
}

func newTestBlobstore(t *testing.T) *blobstore.Store {
	t.Helper()
	s, err := blobstore.Open(t.TempDir() + "/blobs.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestImportSite_RoundTripMatchesSenderBytes(t *testing.T) {
	log := logx.New(false)

	senderStore := newTestBlobstore(t)
	require.NoError(t, senderStore.Put("site-1", "index.html", []byte("<h1>hello</h1>"), "text/html"))
	require.NoError(t, senderStore.Put("site-1", "assets/app.js", []byte("console.log('hi')"), "application/javascript"))

	receiverStore := newTestBlobstore(t)

	chA := newFakeChannel("peer-a")
	chB := newFakeChannel("peer-b")
	link(chA, chB)

	transfer.New(log, chA, senderStore)
	receiverProto := transfer.New(log, chB, receiverStore)

	var progressCalls []string
	progress := func(completed, total int, path string) {
		progressCalls = append(progressCalls, path)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := receiverProto.ImportSite(ctx, "peer-a", "site-1", progress)
	require.NoError(t, err)

	got, err := receiverStore.Get("site-1", "index.html")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, []byte("<h1>hello</h1>"), got.Bytes)
	require.Equal(t, "text/html", got.ContentType)

	got2, err := receiverStore.Get("site-1", "assets/app.js")
	require.NoError(t, err)
	require.NotNil(t, got2)
	require.Equal(t, []byte("console.log('hi')"), got2.Bytes)

	require.NotEmpty(t, progressCalls)
}

func TestImportSite_LargeFileSpansMultipleChunks(t *testing.T) {
	log := logx.New(false)

	senderStore := newTestBlobstore(t)
	big := make([]byte, 150*1024)
	for i := range big {
		big[i] = byte(i % 251)
	}
	require.NoError(t, senderStore.Put("site-1", "blob.bin", big, "application/octet-stream"))

	receiverStore := newTestBlobstore(t)

	chA := newFakeChannel("peer-a")
	chB := newFakeChannel("peer-b")
	link(chA, chB)

	transfer.New(log, chA, senderStore)
	receiverProto := transfer.New(log, chB, receiverStore)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, receiverProto.ImportSite(ctx, "peer-a", "site-1", nil))

	got, err := receiverStore.Get("site-1", "blob.bin")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, big, got.Bytes)
}

func TestImportSite_TimeoutWhenPeerNeverResponds(t *testing.T) {
	log := logx.New(false)
	store := newTestBlobstore(t)

	ch := newFakeChannel("peer-a") // unlinked: sends go nowhere

	proto := transfer.New(log, ch, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already expired, so the 30s file-list deadline resolves immediately

	err := proto.ImportSite(ctx, "peer-a", "site-1", nil)
	require.ErrorIs(t, err, scraperr.ErrTimeout)
}

func TestImportSite_PeerGoneMidTransferRejectsPending(t *testing.T) {
	log := logx.New(false)

	senderStore := newTestBlobstore(t)
	require.NoError(t, senderStore.Put("site-1", "index.html", []byte("hi"), "text/html"))

	receiverStore := newTestBlobstore(t)

	chA := newFakeChannel("peer-a")
	chB := newFakeChannel("peer-b")
	link(chA, chB)

	transfer.New(log, chA, senderStore)
	receiverProto := transfer.New(log, chB, receiverStore)

	// Sever the link before the receiver's request reaches the sender, then
	// signal peer departure on the receiver's channel.
	chB.counterpart = nil
	go func() {
		time.Sleep(50 * time.Millisecond)
		chB.triggerLeave("peer-a")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := receiverProto.ImportSite(ctx, "peer-a", "site-1", nil)
	require.ErrorIs(t, err, scraperr.ErrPeerGone)
}
