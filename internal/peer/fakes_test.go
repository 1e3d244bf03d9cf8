package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mossy-p/meeting-signaling/internal/media"
	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func quietLoggers() *logging.DefaultLoggerFactory {
	factory := logging.NewDefaultLoggerFactory()
	factory.Writer = io.Discard
	return factory
}

type fakeConn struct {
	remote      string
	onCandidate func(webrtc.ICECandidateInit)

	// set by fakeFactory.configure before the conn is handed out
	forceRenegotiate bool
	remoteErr        error
	offerGate        chan struct{}
	remoteGate       chan struct{}

	mu     sync.Mutex
	calls  []string
	tracks []webrtc.TrackLocal
	offers int
	closes int
	held   bool
}

func (c *fakeConn) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *fakeConn) SetTracks(tracks []webrtc.TrackLocal) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	renegotiate := c.forceRenegotiate || ShapeChanged(c.tracks, tracks)
	c.tracks = tracks
	c.calls = append(c.calls, fmt.Sprintf("tracks:%d", len(tracks)))
	return renegotiate, nil
}

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	if c.offerGate != nil {
		<-c.offerGate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offers++
	c.calls = append(c.calls, "create-offer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", c.offers)}, nil
}

func (c *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	c.record("create-answer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (c *fakeConn) SetLocalDescription(sdp webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sdp.Type == webrtc.SDPTypeOffer {
		c.held = true
	}
	c.calls = append(c.calls, "local:"+sdp.Type.String())
	return nil
}

func (c *fakeConn) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	if c.remoteGate != nil {
		<-c.remoteGate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if sdp.Type == webrtc.SDPTypeAnswer {
		c.held = false
	}
	c.calls = append(c.calls, "remote:"+sdp.SDP)
	return c.remoteErr
}

// Rollback fails like pionConn when no offer is outstanding
func (c *fakeConn) Rollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.held {
		return errNothingToRollback
	}
	c.held = false
	c.calls = append(c.calls, "rollback")
	return nil
}

func (c *fakeConn) SetMuted(kind webrtc.RTPCodecType, muted bool) error {
	if muted {
		c.record("mute:" + kind.String())
	} else {
		c.record("unmute:" + kind.String())
	}
	return nil
}

func (c *fakeConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	c.record("candidate:" + candidate.Candidate)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeConn) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *fakeConn) has(call string) bool {
	return slices.Contains(c.snapshot(), call)
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *fakeConn) trackIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.tracks))
	for _, t := range c.tracks {
		ids = append(ids, t.ID())
	}
	return ids
}

type fakeFactory struct {
	mu        sync.Mutex
	conns     map[string][]*fakeConn
	configure func(*fakeConn)
}

func (f *fakeFactory) NewConn(remote string, onCandidate func(webrtc.ICECandidateInit)) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeConn{remote: remote, onCandidate: onCandidate}
	if f.configure != nil {
		f.configure(c)
	}
	f.conns[remote] = append(f.conns[remote], c)
	return c, nil
}

func (f *fakeFactory) setConfigure(fn func(*fakeConn)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configure = fn
}

// conn returns the newest connection opened to remote
func (f *fakeFactory) conn(remote string) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.conns[remote]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (f *fakeFactory) count(remote string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns[remote])
}

type fakeTransport struct {
	inbound chan models.Envelope
	sent    chan models.Envelope
}

func (t *fakeTransport) Send(env models.Envelope) error {
	t.sent <- env
	return nil
}

func (t *fakeTransport) Inbound() <-chan models.Envelope {
	return t.inbound
}

type fakeSource struct {
	audio, video, screen webrtc.TrackLocal

	userErr      atomic.Bool
	userStops    atomic.Int32
	displayStops atomic.Int32
	display      atomic.Pointer[media.Stream]
}

func newFakeSource(t *testing.T) *fakeSource {
	audio, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "cam")
	require.NoError(t, err)
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "cam")
	require.NoError(t, err)
	screen, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", "display")
	require.NoError(t, err)
	return &fakeSource{audio: audio, video: video, screen: screen}
}

func (s *fakeSource) UserMedia(context.Context) (*media.Stream, error) {
	if s.userErr.Load() {
		return nil, fmt.Errorf("%w: permission denied", media.ErrMediaUnavailable)
	}
	return media.NewStream([]webrtc.TrackLocal{s.audio, s.video}, func() { s.userStops.Add(1) }), nil
}

func (s *fakeSource) DisplayMedia(context.Context) (*media.Stream, error) {
	stream := media.NewStream([]webrtc.TrackLocal{s.screen}, func() { s.displayStops.Add(1) })
	s.display.Store(stream)
	return stream, nil
}

type transition struct {
	remote   string
	from, to State
}

type harness struct {
	t       *testing.T
	orch    *Orchestrator
	tr      *fakeTransport
	factory *fakeFactory
	source  *fakeSource
	chats   chan models.ChatMessage
	runErr  chan error
	flushN  int

	mu          sync.Mutex
	transitions []transition
}

// startHarness runs an orchestrator that has been welcomed as selfID but
// has not joined a room.
func startHarness(t *testing.T, selfID string) *harness {
	t.Helper()
	return startHarnessWith(t, selfID, nil)
}

// startHarnessWith is startHarness with connections opened by factory
// instead of the fake one, when factory is not nil.
func startHarnessWith(t *testing.T, selfID string, factory ConnFactory) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		tr:      &fakeTransport{inbound: make(chan models.Envelope, 64), sent: make(chan models.Envelope, 256)},
		factory: &fakeFactory{conns: make(map[string][]*fakeConn)},
		source:  newFakeSource(t),
		chats:   make(chan models.ChatMessage, 64),
		runErr:  make(chan error, 1),
	}
	if factory == nil {
		factory = h.factory
	}
	h.orch = New(Options{
		Transport:     h.tr,
		Factory:       factory,
		Source:        h.source,
		LoggerFactory: quietLoggers(),
		DisplayName:   "Alice",
		OnChat:        func(msg models.ChatMessage) { h.chats <- msg },
		OnStateChange: func(remote string, from, to State) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.transitions = append(h.transitions, transition{remote, from, to})
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.runErr <- h.orch.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.orch.done:
		case <-time.After(2 * time.Second):
		}
	})

	h.deliver(models.EventWelcome, models.Welcome{ParticipantID: selfID})
	return h
}

// newHarness is startHarness plus a successful StartCall in room r1
func newHarness(t *testing.T, selfID string) *harness {
	t.Helper()
	return joinRoom(startHarness(t, selfID))
}

func joinRoom(h *harness) *harness {
	t := h.t
	t.Helper()
	require.NoError(t, h.orch.StartCall(context.Background(), "r1"))
	var req models.RoomRequest
	h.expectSent(models.EventJoinRoom, &req)
	require.Equal(t, "r1", req.RoomID)
	return h
}

func (h *harness) deliver(event models.EventType, v interface{}) {
	h.t.Helper()
	env, err := models.NewEnvelope(event, v)
	require.NoError(h.t, err)
	h.tr.inbound <- env
}

func (h *harness) deliverSignal(event models.EventType, from string, payload interface{}) {
	h.t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(h.t, err)
	h.deliver(event, models.Signal{Payload: data, From: from})
}

func (h *harness) deliverOffer(from, sdp string) {
	h.deliverSignal(models.EventOffer, from, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
}

func (h *harness) deliverAnswer(from, sdp string) {
	h.deliverSignal(models.EventAnswer, from, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

func (h *harness) deliverCandidate(from, candidate string) {
	h.deliverSignal(models.EventICECandidate, from, webrtc.ICECandidateInit{Candidate: candidate})
}

func (h *harness) next() models.Envelope {
	h.t.Helper()
	select {
	case env := <-h.tr.sent:
		return env
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for an outbound message")
		return models.Envelope{}
	}
}

func (h *harness) expectSent(event models.EventType, into interface{}) {
	h.t.Helper()
	env := h.next()
	require.Equal(h.t, event, env.Event, "data: %s", env.Data)
	if into != nil {
		require.NoError(h.t, env.Decode(into))
	}
}

// expectSignal reads the next outbound negotiation message and returns its
// decoded payload
func (h *harness) expectSignal(event models.EventType, to string, payload interface{}) {
	h.t.Helper()
	var sig models.Signal
	h.expectSent(event, &sig)
	require.Equal(h.t, to, sig.To)
	require.Empty(h.t, sig.From)
	if payload != nil {
		require.NoError(h.t, json.Unmarshal(sig.Payload, payload))
	}
}

// expectDescription is expectSignal for an offer or answer, skipping any
// candidates trickled ahead of it
func (h *harness) expectDescription(event models.EventType, to string, sdp *webrtc.SessionDescription) {
	h.t.Helper()
	for {
		env := h.next()
		if env.Event == models.EventICECandidate {
			continue
		}
		require.Equal(h.t, event, env.Event, "data: %s", env.Data)
		var sig models.Signal
		require.NoError(h.t, env.Decode(&sig))
		require.Equal(h.t, to, sig.To)
		require.NoError(h.t, json.Unmarshal(sig.Payload, sdp))
		return
	}
}

func (h *harness) expectNothingSent() {
	h.t.Helper()
	select {
	case env := <-h.tr.sent:
		h.t.Fatalf("unexpected outbound %s: %s", env.Event, env.Data)
	default:
	}
}

// flush returns once every previously delivered inbound event was handled
func (h *harness) flush() {
	h.t.Helper()
	h.flushN++
	marker := fmt.Sprintf("flush-%d", h.flushN)
	h.deliver(models.EventChatMessage, models.ChatMessage{Text: marker, Room: "r1"})
	for {
		select {
		case msg := <-h.chats:
			if msg.Text == marker {
				return
			}
		case <-time.After(2 * time.Second):
			h.t.Fatal("timed out flushing the event loop")
		}
	}
}

// settle gives workers time to report back, then flushes the loop
func (h *harness) settle() {
	h.t.Helper()
	time.Sleep(100 * time.Millisecond)
	h.flush()
}

func (h *harness) waitState(remote string, want State) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		got, ok := h.orch.State(remote)
		return ok && got == want
	}, 2*time.Second, 5*time.Millisecond, "waiting for %s to reach %s", remote, want)
}

func (h *harness) transitionsFor(remote string) []transition {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []transition
	for _, tr := range h.transitions {
		if tr.remote == remote {
			out = append(out, tr)
		}
	}
	return out
}

func (h *harness) waitConn(remote string) *fakeConn {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.factory.conn(remote) != nil }, 2*time.Second, 5*time.Millisecond)
	return h.factory.conn(remote)
}

// connectAsCaller completes the offer/answer exchange initiated by a
// user-joined event for remote
func (h *harness) connectAsCaller(remote string) *fakeConn {
	h.t.Helper()
	h.deliver(models.EventUserJoined, models.Presence{ParticipantID: remote})
	var offer webrtc.SessionDescription
	h.expectSignal(models.EventOffer, remote, &offer)
	require.Equal(h.t, webrtc.SDPTypeOffer, offer.Type)

	h.deliverAnswer(remote, "answer-from-"+remote)
	h.waitState(remote, Connected)
	conn := h.factory.conn(remote)
	require.Eventually(h.t, func() bool { return conn.has("remote:answer-from-" + remote) }, 2*time.Second, 5*time.Millisecond)
	h.settle()
	return conn
}

// connectAsCallee answers an offer from remote
func (h *harness) connectAsCallee(remote string) *fakeConn {
	h.t.Helper()
	h.deliverOffer(remote, "offer-from-"+remote)
	var answer webrtc.SessionDescription
	h.expectSignal(models.EventAnswer, remote, &answer)
	require.Equal(h.t, webrtc.SDPTypeAnswer, answer.Type)
	h.waitState(remote, Connected)
	h.settle()
	return h.factory.conn(remote)
}

func indexOf(calls []string, call string) int {
	return slices.Index(calls, call)
}

func countOf(calls []string, call string) int {
	n := 0
	for _, c := range calls {
		if c == call {
			n++
		}
	}
	return n
}
