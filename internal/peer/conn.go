package peer

import (
	"github.com/pion/webrtc/v4"
)

// Conn is the negotiation primitive for one remote participant. Calls on a
// single Conn are never made concurrently.
type Conn interface {
	// SetTracks publishes tracks. It reports renegotiate=true when the
	// per-kind track counts changed and a fresh offer is needed; same-kind
	// swaps are applied in place.
	SetTracks(tracks []webrtc.TrackLocal) (renegotiate bool, err error)
	// SetMuted stops or resumes sending every track of kind without
	// renegotiating. It survives later SetTracks calls.
	SetMuted(kind webrtc.RTPCodecType, muted bool) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(sdp webrtc.SessionDescription) error
	SetRemoteDescription(sdp webrtc.SessionDescription) error
	// Rollback discards a local offer that has not been answered, leaving
	// the connection as it was before the offer. Established media is not
	// disturbed.
	Rollback() error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	Close() error
}

// ConnFactory opens connections. onCandidate is called from any goroutine
// for each locally gathered ICE candidate.
type ConnFactory interface {
	NewConn(remote string, onCandidate func(webrtc.ICECandidateInit)) (Conn, error)
}

// ShapeChanged reports whether two track sets differ in how many tracks
// of each kind they carry.
func ShapeChanged(prev, next []webrtc.TrackLocal) bool {
	counts := make(map[webrtc.RTPCodecType]int)
	for _, t := range prev {
		counts[t.Kind()]++
	}
	for _, t := range next {
		counts[t.Kind()]--
	}
	for _, n := range counts {
		if n != 0 {
			return true
		}
	}
	return false
}
