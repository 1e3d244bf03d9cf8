package peer

import (
	"errors"
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

var errNothingToRollback = errors.New("no local offer to roll back")

// PionConfig configures connections built by PionFactory
type PionConfig struct {
	ICEServers    []string
	LoggerFactory logging.LoggerFactory
	// OnTrack receives remote media, tagged with the sending participant
	OnTrack func(remote string, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
}

// PionFactory opens pion PeerConnections sharing one API instance
type PionFactory struct {
	api     *webrtc.API
	servers []webrtc.ICEServer
	onTrack func(string, *webrtc.TrackRemote, *webrtc.RTPReceiver)
	log     logging.LeveledLogger
}

func NewPionFactory(cfg PionConfig) (*PionFactory, error) {
	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = logging.NewDefaultLoggerFactory()
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: cfg.LoggerFactory}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	var servers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	return &PionFactory{
		api:     api,
		servers: servers,
		onTrack: cfg.OnTrack,
		log:     cfg.LoggerFactory.NewLogger("pion"),
	}, nil
}

func (f *PionFactory) NewConn(remote string, onCandidate func(webrtc.ICECandidateInit)) (Conn, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: f.servers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		onCandidate(c.ToJSON())
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		f.log.Infof("Received %s track %s from %s", track.Kind(), track.ID(), remote)
		if f.onTrack != nil {
			f.onTrack(remote, track, receiver)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		f.log.Debugf("Connection to %s: %s", remote, state)
	})

	return &pionConn{
		pc:      pc,
		muted:   make(map[webrtc.RTPCodecType]bool),
		offered: make(map[*webrtc.RTPSender]bool),
		live:    make(map[*webrtc.RTPSender]bool),
	}, nil
}

type pionConn struct {
	pc *webrtc.PeerConnection

	// tracks[i] is what senders[i] publishes while its kind is unmuted
	senders []*webrtc.RTPSender
	tracks  []webrtc.TrackLocal
	muted   map[webrtc.RTPCodecType]bool

	// offered senders appear in a description we created; pion starts
	// them once an exchange completes, and only then are they live
	offered map[*webrtc.RTPSender]bool
	live    map[*webrtc.RTPSender]bool

	// offer is our local offer, installed only when its answer arrives
	offer *webrtc.SessionDescription
}

// SetTracks pairs new tracks with existing senders of the same kind and
// swaps them with ReplaceTrack. Leftover senders are removed and extra
// tracks added, which requires a new offer.
func (c *pionConn) SetTracks(tracks []webrtc.TrackLocal) (bool, error) {
	renegotiate := ShapeChanged(c.tracks, tracks)
	used := make([]bool, len(c.senders))
	var extra []webrtc.TrackLocal

	for _, track := range tracks {
		matched := false
		for i := range c.senders {
			if used[i] || c.tracks[i].Kind() != track.Kind() {
				continue
			}
			used[i] = true
			matched = true
			c.tracks[i] = track
			if err := c.sync(i); err != nil {
				return false, err
			}
			break
		}
		if !matched {
			extra = append(extra, track)
		}
	}

	var senders []*webrtc.RTPSender
	var kept []webrtc.TrackLocal
	for i, sender := range c.senders {
		if used[i] {
			senders = append(senders, sender)
			kept = append(kept, c.tracks[i])
			continue
		}
		delete(c.live, sender)
		delete(c.offered, sender)
		if err := c.pc.RemoveTrack(sender); err != nil {
			return false, fmt.Errorf("failed to remove track: %w", err)
		}
	}

	for _, track := range extra {
		sender, err := c.pc.AddTrack(track)
		if err != nil {
			return false, fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
		}
		go drainRTCP(sender)
		senders = append(senders, sender)
		kept = append(kept, track)
	}

	c.senders, c.tracks = senders, kept
	return renegotiate, nil
}

// SetMuted detaches or restores every sender of kind. Senders that have
// not started sending yet keep their track; pion refuses to start a sender
// without one, so they are muted once negotiation completes.
func (c *pionConn) SetMuted(kind webrtc.RTPCodecType, muted bool) error {
	c.muted[kind] = muted
	for i := range c.senders {
		if c.tracks[i].Kind() != kind {
			continue
		}
		if err := c.sync(i); err != nil {
			return err
		}
	}
	return nil
}

// sync points senders[i] at the track it should currently carry
func (c *pionConn) sync(i int) error {
	sender, want := c.senders[i], c.tracks[i]
	if c.muted[want.Kind()] && c.live[sender] {
		want = nil
	}
	if sender.Track() == want {
		return nil
	}
	if err := sender.ReplaceTrack(want); err != nil {
		return fmt.Errorf("failed to replace %s track: %w", c.tracks[i].Kind(), err)
	}
	return nil
}

// negotiated runs after a description exchange completes
func (c *pionConn) negotiated() error {
	for i, sender := range c.senders {
		if !c.offered[sender] {
			continue
		}
		c.live[sender] = true
		if err := c.sync(i); err != nil {
			return err
		}
	}
	return nil
}

// markOffered records the senders a new description carries. An offer
// carries every sender; an answer only those matched to a remote section.
func (c *pionConn) markOffered(offer bool) {
	mids := make(map[*webrtc.RTPSender]string)
	for _, t := range c.pc.GetTransceivers() {
		if sender := t.Sender(); sender != nil {
			mids[sender] = t.Mid()
		}
	}
	for _, sender := range c.senders {
		if offer || mids[sender] != "" {
			c.offered[sender] = true
		}
	}
}

// Read and discard RTCP packets so interceptors keep running
func drainRTCP(sender *webrtc.RTPSender) {
	for {
		if _, _, err := sender.ReadRTCP(); err != nil {
			return
		}
	}
}

func (c *pionConn) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err == nil {
		c.markOffered(true)
	}
	return offer, err
}

func (c *pionConn) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err == nil {
		c.markOffered(false)
	}
	return answer, err
}

// SetLocalDescription holds a local offer back until the answer arrives.
// pion cannot roll back an installed offer; a held one is simply dropped.
func (c *pionConn) SetLocalDescription(sdp webrtc.SessionDescription) error {
	if sdp.Type == webrtc.SDPTypeOffer {
		if state := c.pc.SignalingState(); state != webrtc.SignalingStateStable {
			return fmt.Errorf("cannot offer in signaling state %s", state)
		}
		c.offer = &sdp
		return nil
	}
	if err := c.pc.SetLocalDescription(sdp); err != nil {
		return err
	}
	if sdp.Type == webrtc.SDPTypeAnswer {
		return c.negotiated()
	}
	return nil
}

func (c *pionConn) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	if sdp.Type != webrtc.SDPTypeAnswer {
		return c.pc.SetRemoteDescription(sdp)
	}
	if c.offer == nil {
		return errors.New("answer without a local offer")
	}
	offer := *c.offer
	c.offer = nil
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to install local offer: %w", err)
	}
	if err := c.pc.SetRemoteDescription(sdp); err != nil {
		return err
	}
	return c.negotiated()
}

// Rollback drops the held local offer
func (c *pionConn) Rollback() error {
	if c.offer == nil {
		return errNothingToRollback
	}
	c.offer = nil
	return nil
}

func (c *pionConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

func (c *pionConn) Close() error {
	return c.pc.Close()
}
