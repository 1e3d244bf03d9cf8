package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/mossy-p/meeting-signaling/internal/media"
	"github.com/mossy-p/meeting-signaling/internal/models"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

var (
	// ErrTransportClosed is returned by Run when the relay connection ends
	ErrTransportClosed = errors.New("transport closed")
	// ErrStopped is returned by calls made after Run has returned
	ErrStopped = errors.New("orchestrator stopped")
	ErrInCall  = errors.New("already in a call")
	ErrNoCall  = errors.New("not in a call")
)

// Transport is the orchestrator's link to the relay
type Transport interface {
	Send(env models.Envelope) error
	Inbound() <-chan models.Envelope
}

type Options struct {
	Transport     Transport
	Factory       ConnFactory
	Source        media.Source
	LoggerFactory logging.LoggerFactory
	DisplayName   string

	// OnChat receives every chat message the relay delivers. Like
	// OnStateChange it runs on the event loop and must not call back into
	// the Orchestrator.
	OnChat func(msg models.ChatMessage)
	// OnStateChange observes record transitions. It runs on the event loop
	// and must not call back into the Orchestrator.
	OnStateChange func(remote string, from, to State)
}

// Orchestrator keeps one negotiated connection per remote participant.
//
// All state is owned by the goroutine running Run. Public methods queue a
// closure onto that loop and wait for it, so they require Run to be running.
// Conn calls for one record run in order on that record's worker and report
// back to the loop; a report for a destroyed record is dropped.
type Orchestrator struct {
	transport   Transport
	factory     ConnFactory
	source      media.Source
	log         logging.LeveledLogger
	displayName string
	onChat      func(models.ChatMessage)
	onState     func(string, State, State)

	cmds chan func()
	done chan struct{}

	selfID  string
	room    string
	records map[string]*record
	present map[string]struct{}
	camera  *media.Stream
	screen  *media.Stream
	tracks  []webrtc.TrackLocal
	muted   map[webrtc.RTPCodecType]bool
	nextGen uint64
}

type record struct {
	remote string
	state  State
	conn   Conn
	worker *worker

	// gen identifies this record; offerOp the latest local offer
	gen     uint64
	offerOp uint64

	remoteSet bool
	pending   []webrtc.ICECandidateInit

	// local candidates wait until our first description went out
	localReady   bool
	localPending []webrtc.ICECandidateInit

	dirty       bool // tracks changed mid-negotiation
	renegotiate bool // a fresh offer is owed once settled
}

func New(opts Options) *Orchestrator {
	loggerFactory := opts.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &Orchestrator{
		transport:   opts.Transport,
		factory:     opts.Factory,
		source:      opts.Source,
		log:         loggerFactory.NewLogger("orchestrator"),
		displayName: opts.DisplayName,
		onChat:      opts.OnChat,
		onState:     opts.OnStateChange,
		cmds:        make(chan func(), 64),
		done:        make(chan struct{}),
		records:     make(map[string]*record),
		present:     make(map[string]struct{}),
		muted:       make(map[webrtc.RTPCodecType]bool),
	}
}

// Run processes relay events and queued calls until ctx is cancelled or the
// transport closes. Cancellation ends the call first; transport loss tears
// every connection down and returns ErrTransportClosed.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer close(o.done)
	inbound := o.transport.Inbound()

	for {
		select {
		case <-ctx.Done():
			o.endCall()
			return ctx.Err()

		case env, ok := <-inbound:
			if !ok {
				o.log.Warnf("Relay connection lost, closing %d peer connections", len(o.records))
				o.closeAll()
				o.releaseMedia()
				o.room = ""
				return ErrTransportClosed
			}
			o.handle(env)

		case fn := <-o.cmds:
			fn()
		}
	}
}

// StartCall acquires camera and microphone and joins room. When capture
// fails the room is joined anyway and the returned error wraps
// media.ErrMediaUnavailable.
func (o *Orchestrator) StartCall(ctx context.Context, room string) error {
	if room == "" {
		return errors.New("room id is required")
	}

	stream, mediaErr := o.source.UserMedia(ctx)

	inCall := false
	err := o.call(func() {
		if o.room != "" {
			inCall = true
			return
		}
		o.room = room
		o.camera = stream
		o.setLocalTracks(o.publishedTracks())
		o.send(models.EventJoinRoom, models.RoomRequest{RoomID: room})
		o.log.Infof("Joining room %s", room)
	})
	switch {
	case err != nil:
		stream.Stop()
		return err
	case inCall:
		stream.Stop()
		return ErrInCall
	case mediaErr != nil:
		return fmt.Errorf("joined %s without local media: %w", room, mediaErr)
	}
	return nil
}

// EndCall closes every connection, stops local media and leaves the room
func (o *Orchestrator) EndCall() error {
	return o.call(o.endCall)
}

// StartScreenShare swaps the published video for a display capture. Audio
// keeps flowing from the camera stream.
func (o *Orchestrator) StartScreenShare(ctx context.Context) error {
	stream, err := o.source.DisplayMedia(ctx)
	if err != nil {
		return fmt.Errorf("screen share: %w", err)
	}

	noCall := false
	err = o.call(func() {
		if o.room == "" {
			noCall = true
			return
		}
		o.screen.Stop()
		o.screen = stream
		o.setLocalTracks(o.publishedTracks())
	})
	if err != nil || noCall {
		stream.Stop()
		if err == nil {
			err = ErrNoCall
		}
		return err
	}

	// capture can end without us, e.g. the shared window closes
	go func() {
		select {
		case <-stream.Ended():
			o.post(func() { o.screenEnded(stream) })
		case <-o.done:
		}
	}()
	return nil
}

// StopScreenShare returns to the camera tracks
func (o *Orchestrator) StopScreenShare() error {
	return o.call(func() {
		if o.screen == nil {
			return
		}
		o.screen.Stop()
		o.screen = nil
		o.setLocalTracks(o.publishedTracks())
	})
}

// ScreenSharing reports whether a display capture is being published
func (o *Orchestrator) ScreenSharing() bool {
	on := false
	_ = o.call(func() { on = o.screen != nil })
	return on
}

// SetAudioEnabled mutes or unmutes outgoing audio on every connection.
// No renegotiation takes place and the setting carries over to
// participants who join later.
func (o *Orchestrator) SetAudioEnabled(enabled bool) error {
	return o.call(func() { o.setMuted(webrtc.RTPCodecTypeAudio, !enabled) })
}

// SetVideoEnabled pauses or resumes outgoing video, camera or screen share
func (o *Orchestrator) SetVideoEnabled(enabled bool) error {
	return o.call(func() { o.setMuted(webrtc.RTPCodecTypeVideo, !enabled) })
}

// SetLocalTracks publishes an explicit track set to every connection
func (o *Orchestrator) SetLocalTracks(tracks []webrtc.TrackLocal) error {
	tracks = append([]webrtc.TrackLocal(nil), tracks...)
	return o.call(func() { o.setLocalTracks(tracks) })
}

// SendChat posts text to the current room
func (o *Orchestrator) SendChat(text string) error {
	var callErr error
	err := o.call(func() {
		if o.room == "" {
			callErr = ErrNoCall
			return
		}
		o.send(models.EventChatMessage, models.ChatMessage{
			Text:   text,
			Room:   o.room,
			Sender: o.displayName,
		})
	})
	if err != nil {
		return err
	}
	return callErr
}

// State reports the negotiation state for remote. Records that were never
// created or already destroyed report (Closed, false).
func (o *Orchestrator) State(remote string) (State, bool) {
	state, ok := Closed, false
	_ = o.call(func() {
		if rec := o.records[remote]; rec != nil {
			state, ok = rec.state, true
		}
	})
	return state, ok
}

// Participants returns the other members of the room as last reported
func (o *Orchestrator) Participants() []string {
	var ids []string
	_ = o.call(func() {
		for id := range o.present {
			ids = append(ids, id)
		}
	})
	sort.Strings(ids)
	return ids
}

// SelfID is the identity the relay assigned, empty before the welcome
func (o *Orchestrator) SelfID() string {
	var id string
	_ = o.call(func() { id = o.selfID })
	return id
}

func (o *Orchestrator) call(fn func()) error {
	ack := make(chan struct{})
	select {
	case o.cmds <- func() { fn(); close(ack) }:
	case <-o.done:
		return ErrStopped
	}

	select {
	case <-ack:
		return nil
	case <-o.done:
		select {
		case <-ack:
			return nil
		default:
			return ErrStopped
		}
	}
}

// post hands a completion back to the loop from a worker or pion callback
func (o *Orchestrator) post(fn func()) {
	select {
	case o.cmds <- fn:
	case <-o.done:
	}
}

func (o *Orchestrator) handle(env models.Envelope) {
	switch env.Event {
	case models.EventWelcome:
		var w models.Welcome
		if err := env.Decode(&w); err != nil {
			o.log.Warnf("Malformed welcome: %v", err)
			return
		}
		o.selfID = w.ParticipantID
		o.log.Infof("Relay assigned id %s", o.selfID)

	case models.EventParticipantsList:
		var list models.ParticipantsList
		if err := env.Decode(&list); err != nil {
			o.log.Warnf("Malformed participants list: %v", err)
			return
		}
		o.present = make(map[string]struct{}, len(list.Members))
		for _, m := range list.Members {
			if m.ID != o.selfID {
				o.present[m.ID] = struct{}{}
			}
		}
		o.log.Infof("Room has %d other participants", len(o.present))

	case models.EventUserJoined, models.EventUserLeft:
		var p models.Presence
		if err := env.Decode(&p); err != nil || p.ParticipantID == "" || p.ParticipantID == o.selfID {
			return
		}
		if env.Event == models.EventUserJoined {
			o.userJoined(p.ParticipantID)
		} else {
			o.userLeft(p.ParticipantID)
		}

	case models.EventOffer, models.EventAnswer:
		var sig models.Signal
		var sdp webrtc.SessionDescription
		if err := env.Decode(&sig); err != nil || sig.From == "" {
			o.log.Warnf("Malformed %s", env.Event)
			return
		}
		if err := json.Unmarshal(sig.Payload, &sdp); err != nil {
			o.log.Warnf("Malformed %s from %s: %v", env.Event, sig.From, err)
			return
		}
		if env.Event == models.EventOffer {
			o.remoteOffer(sig.From, sdp)
		} else {
			o.remoteAnswer(sig.From, sdp)
		}

	case models.EventICECandidate:
		var sig models.Signal
		var candidate webrtc.ICECandidateInit
		if err := env.Decode(&sig); err != nil || sig.From == "" {
			o.log.Warnf("Malformed ice-candidate")
			return
		}
		if err := json.Unmarshal(sig.Payload, &candidate); err != nil {
			o.log.Warnf("Malformed ice-candidate from %s: %v", sig.From, err)
			return
		}
		o.remoteCandidate(sig.From, candidate)

	case models.EventChatMessage:
		var msg models.ChatMessage
		if err := env.Decode(&msg); err != nil {
			o.log.Warnf("Malformed chat message: %v", err)
			return
		}
		if o.onChat != nil {
			o.onChat(msg)
		}

	case models.EventError:
		var e models.ErrorMessage
		_ = env.Decode(&e)
		o.log.Warnf("Relay rejected a message: %s", e.Message)

	default:
		o.log.Debugf("Ignoring event %q", env.Event)
	}
}

func (o *Orchestrator) userJoined(remote string) {
	o.present[remote] = struct{}{}
	if o.room == "" {
		return
	}
	rec := o.records[remote]
	if rec == nil {
		var err error
		if rec, err = o.newRecord(remote); err != nil {
			o.log.Warnf("Cannot connect to %s: %v", remote, err)
			return
		}
	}
	o.apply(rec, InputUserJoined, nil)
}

func (o *Orchestrator) userLeft(remote string) {
	delete(o.present, remote)
	if rec := o.records[remote]; rec != nil {
		o.apply(rec, InputLeft, nil)
	}
}

func (o *Orchestrator) remoteOffer(remote string, offer webrtc.SessionDescription) {
	if o.room == "" {
		o.log.Debugf("Ignoring offer from %s outside a call", remote)
		return
	}
	o.present[remote] = struct{}{}
	rec := o.records[remote]
	if rec == nil {
		var err error
		if rec, err = o.newRecord(remote); err != nil {
			o.log.Warnf("Cannot answer %s: %v", remote, err)
			return
		}
	}
	o.apply(rec, InputOffer, &offer)
}

func (o *Orchestrator) remoteAnswer(remote string, answer webrtc.SessionDescription) {
	rec := o.records[remote]
	if rec == nil {
		o.log.Warnf("Ignoring answer from %s: no connection", remote)
		return
	}
	o.apply(rec, InputAnswer, &answer)
}

func (o *Orchestrator) remoteCandidate(remote string, candidate webrtc.ICECandidateInit) {
	rec := o.records[remote]
	if rec == nil {
		o.log.Debugf("Dropping candidate from %s: no connection", remote)
		return
	}
	if !rec.remoteSet {
		rec.pending = append(rec.pending, candidate)
		return
	}
	o.addCandidates(rec, []webrtc.ICECandidateInit{candidate})
}

func (o *Orchestrator) newRecord(remote string) (*record, error) {
	o.nextGen++
	gen := o.nextGen

	conn, err := o.factory.NewConn(remote, func(c webrtc.ICECandidateInit) {
		o.post(func() { o.localCandidate(remote, gen, c) })
	})
	if err != nil {
		return nil, err
	}

	rec := &record{
		remote: remote,
		state:  Idle,
		conn:   conn,
		worker: newWorker(),
		gen:    gen,
	}
	o.records[remote] = rec

	tracks := o.tracks
	rec.worker.push(func() {
		if _, err := conn.SetTracks(tracks); err != nil {
			o.post(func() { o.failed(remote, gen, fmt.Errorf("attach tracks: %w", err)) })
		}
	})
	for kind, muted := range o.muted {
		if muted {
			o.applyMute(rec, kind, true)
		}
	}
	return rec, nil
}

// apply runs the state machine for one input and performs its action
func (o *Orchestrator) apply(rec *record, in Input, sdp *webrtc.SessionDescription) {
	prev := rec.state
	next, action := Transition(prev, in, Polite(o.selfID, rec.remote))
	o.setState(rec, next)

	switch action {
	case ActionCreateOffer:
		o.createOffer(rec)
	case ActionAnswerOffer:
		o.acceptOffer(rec, *sdp, false)
	case ActionRollbackAndAnswer:
		o.log.Infof("Offer collision with %s, withdrawing our offer", rec.remote)
		o.acceptOffer(rec, *sdp, true)
	case ActionInstallAnswer:
		o.installAnswer(rec, *sdp)
	case ActionClose:
		o.destroy(rec)
	case ActionIgnore:
		o.log.Warnf("Ignoring %s from %s in state %s", in, rec.remote, prev)
	case ActionNone:
		if in == InputRenegotiate {
			rec.renegotiate = true
		}
	}
}

func (o *Orchestrator) setState(rec *record, next State) {
	if rec.state == next {
		return
	}
	prev := rec.state
	rec.state = next
	o.log.Debugf("Peer %s: %s -> %s", rec.remote, prev, next)
	if o.onState != nil {
		o.onState(rec.remote, prev, next)
	}
}

// lookup returns the live record for a completion, or nil when stale
func (o *Orchestrator) lookup(remote string, gen uint64) *record {
	rec := o.records[remote]
	if rec == nil || rec.gen != gen {
		o.log.Debugf("Discarding stale completion for %s", remote)
		return nil
	}
	return rec
}

func (o *Orchestrator) createOffer(rec *record) {
	rec.offerOp++
	remote, gen, op, conn := rec.remote, rec.gen, rec.offerOp, rec.conn

	rec.worker.push(func() {
		offer, err := conn.CreateOffer()
		if err == nil {
			err = conn.SetLocalDescription(offer)
		}
		o.post(func() { o.offerCreated(remote, gen, op, offer, err) })
	})
}

func (o *Orchestrator) offerCreated(remote string, gen, op uint64, offer webrtc.SessionDescription, err error) {
	rec := o.lookup(remote, gen)
	if rec == nil || rec.offerOp != op {
		return
	}
	if err != nil {
		o.fail(rec, fmt.Errorf("create offer: %w", err))
		return
	}
	o.sendSignal(models.EventOffer, remote, offer)
	o.localSent(rec)
	o.apply(rec, InputOfferSent, nil)
}

func (o *Orchestrator) acceptOffer(rec *record, offer webrtc.SessionDescription, rollback bool) {
	if rollback {
		// the local offer is abandoned; ours goes out again once settled
		rec.offerOp++
		rec.renegotiate = true
	}
	remote, gen, conn := rec.remote, rec.gen, rec.conn

	rec.worker.push(func() {
		var err error
		if rollback {
			err = conn.Rollback()
		}
		if err == nil {
			err = conn.SetRemoteDescription(offer)
		}
		o.post(func() { o.offerInstalled(remote, gen, err) })
	})
}

func (o *Orchestrator) offerInstalled(remote string, gen uint64, err error) {
	rec := o.lookup(remote, gen)
	if rec == nil {
		return
	}
	if err != nil {
		o.fail(rec, fmt.Errorf("install offer: %w", err))
		return
	}
	o.remoteInstalled(rec)

	conn := rec.conn
	rec.worker.push(func() {
		answer, err := conn.CreateAnswer()
		if err == nil {
			err = conn.SetLocalDescription(answer)
		}
		o.post(func() { o.answerCreated(remote, gen, answer, err) })
	})
}

func (o *Orchestrator) answerCreated(remote string, gen uint64, answer webrtc.SessionDescription, err error) {
	rec := o.lookup(remote, gen)
	if rec == nil {
		return
	}
	if err != nil {
		o.fail(rec, fmt.Errorf("create answer: %w", err))
		return
	}
	o.sendSignal(models.EventAnswer, remote, answer)
	o.localSent(rec)
	o.apply(rec, InputAnswerSent, nil)
	o.settle(rec)
}

func (o *Orchestrator) installAnswer(rec *record, answer webrtc.SessionDescription) {
	remote, gen, conn := rec.remote, rec.gen, rec.conn
	rec.worker.push(func() {
		err := conn.SetRemoteDescription(answer)
		o.post(func() { o.answerInstalled(remote, gen, err) })
	})
}

func (o *Orchestrator) answerInstalled(remote string, gen uint64, err error) {
	rec := o.lookup(remote, gen)
	if rec == nil {
		return
	}
	if err != nil {
		o.fail(rec, fmt.Errorf("install answer: %w", err))
		return
	}
	o.remoteInstalled(rec)
	o.settle(rec)
}

// remoteInstalled flushes candidates buffered before the remote description
func (o *Orchestrator) remoteInstalled(rec *record) {
	rec.remoteSet = true
	if len(rec.pending) == 0 {
		return
	}
	pending := rec.pending
	rec.pending = nil
	o.addCandidates(rec, pending)
}

func (o *Orchestrator) addCandidates(rec *record, candidates []webrtc.ICECandidateInit) {
	remote, conn := rec.remote, rec.conn
	rec.worker.push(func() {
		for _, c := range candidates {
			if err := conn.AddICECandidate(c); err != nil {
				o.log.Warnf("Failed to add candidate from %s: %v", remote, err)
			}
		}
	})
}

func (o *Orchestrator) localCandidate(remote string, gen uint64, candidate webrtc.ICECandidateInit) {
	rec := o.lookup(remote, gen)
	if rec == nil {
		return
	}
	if !rec.localReady {
		rec.localPending = append(rec.localPending, candidate)
		return
	}
	o.sendSignal(models.EventICECandidate, remote, candidate)
}

func (o *Orchestrator) localSent(rec *record) {
	if rec.localReady {
		return
	}
	rec.localReady = true
	for _, c := range rec.localPending {
		o.sendSignal(models.EventICECandidate, rec.remote, c)
	}
	rec.localPending = nil
}

// settle runs work deferred while a record was negotiating
func (o *Orchestrator) settle(rec *record) {
	if rec.state != Connected {
		return
	}
	if rec.dirty {
		rec.dirty = false
		o.applyTracks(rec)
		return
	}
	if rec.renegotiate {
		rec.renegotiate = false
		o.apply(rec, InputRenegotiate, nil)
	}
}

func (o *Orchestrator) setLocalTracks(tracks []webrtc.TrackLocal) {
	o.tracks = tracks
	for _, rec := range o.records {
		switch rec.state {
		case Connected:
			o.applyTracks(rec)
		case Closed:
		default:
			rec.dirty = true
		}
	}
}

func (o *Orchestrator) applyTracks(rec *record) {
	remote, gen, conn, tracks := rec.remote, rec.gen, rec.conn, o.tracks
	rec.worker.push(func() {
		renegotiate, err := conn.SetTracks(tracks)
		o.post(func() { o.tracksApplied(remote, gen, renegotiate, err) })
	})
}

func (o *Orchestrator) tracksApplied(remote string, gen uint64, renegotiate bool, err error) {
	rec := o.lookup(remote, gen)
	if rec == nil {
		return
	}
	if err != nil {
		o.fail(rec, fmt.Errorf("update tracks: %w", err))
		return
	}
	if renegotiate {
		o.log.Infof("Track layout changed for %s, renegotiating", remote)
		rec.renegotiate = true
	}
	o.settle(rec)
}

func (o *Orchestrator) setMuted(kind webrtc.RTPCodecType, muted bool) {
	if o.muted[kind] == muted {
		return
	}
	o.muted[kind] = muted
	o.log.Infof("Outgoing %s muted: %t", kind, muted)
	for _, rec := range o.records {
		o.applyMute(rec, kind, muted)
	}
}

func (o *Orchestrator) applyMute(rec *record, kind webrtc.RTPCodecType, muted bool) {
	remote, gen, conn := rec.remote, rec.gen, rec.conn
	rec.worker.push(func() {
		if err := conn.SetMuted(kind, muted); err != nil {
			o.post(func() { o.failed(remote, gen, fmt.Errorf("mute %s: %w", kind, err)) })
		}
	})
}

// screenEnded drops a display capture that stopped on its own
func (o *Orchestrator) screenEnded(stream *media.Stream) {
	if o.screen != stream {
		return
	}
	o.log.Infof("Screen capture ended, returning to camera")
	o.screen = nil
	o.setLocalTracks(o.publishedTracks())
}

// publishedTracks is the camera set with its video replaced by the screen
// share, if one is active.
func (o *Orchestrator) publishedTracks() []webrtc.TrackLocal {
	camera := o.camera.Tracks()
	if o.screen == nil {
		return camera
	}
	var tracks []webrtc.TrackLocal
	for _, t := range camera {
		if t.Kind() != webrtc.RTPCodecTypeVideo {
			tracks = append(tracks, t)
		}
	}
	return append(tracks, o.screen.Tracks()...)
}

func (o *Orchestrator) failed(remote string, gen uint64, err error) {
	if rec := o.lookup(remote, gen); rec != nil {
		o.fail(rec, err)
	}
}

func (o *Orchestrator) fail(rec *record, err error) {
	o.log.Warnf("Negotiation with %s failed: %v", rec.remote, err)
	o.destroy(rec)
}

// destroy discards the record; queued work is dropped and the connection
// closed after any primitive already running.
func (o *Orchestrator) destroy(rec *record) {
	delete(o.records, rec.remote)
	o.setState(rec, Closed)

	remote, conn := rec.remote, rec.conn
	rec.worker.stop(func() {
		if err := conn.Close(); err != nil {
			o.log.Debugf("Failed to close connection to %s: %v", remote, err)
		}
	})
}

func (o *Orchestrator) closeAll() {
	for _, rec := range o.records {
		o.destroy(rec)
	}
}

func (o *Orchestrator) releaseMedia() {
	o.screen.Stop()
	o.camera.Stop()
	o.screen, o.camera = nil, nil
	o.tracks = nil
}

func (o *Orchestrator) endCall() {
	o.closeAll()
	o.releaseMedia()
	if o.room == "" {
		return
	}
	o.send(models.EventLeaveRoom, models.RoomRequest{RoomID: o.room})
	o.log.Infof("Left room %s", o.room)
	o.room = ""
	o.present = make(map[string]struct{})
}

func (o *Orchestrator) sendSignal(event models.EventType, to string, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		o.log.Errorf("Failed to marshal %s: %v", event, err)
		return
	}
	o.send(event, models.Signal{Payload: payload, To: to})
}

func (o *Orchestrator) send(event models.EventType, v interface{}) {
	env, err := models.NewEnvelope(event, v)
	if err != nil {
		o.log.Errorf("Failed to marshal %s: %v", event, err)
		return
	}
	if err := o.transport.Send(env); err != nil {
		o.log.Warnf("Failed to send %s: %v", event, err)
	}
}
