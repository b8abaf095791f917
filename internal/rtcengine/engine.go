// Package rtcengine adapts the WebRTC selective-forwarding engine:
// router-level capability negotiation plus per-connection transport
// create/connect/produce/consume. The signaling layer uses it as a
// black box through the interfaces below.
package rtcengine

import (
	"errors"

	"github.com/pion/webrtc/v3"
)

var (
	ErrProducerNotFound = errors.New("rtcengine: producer not found")
	ErrNoCodecs         = errors.New("rtcengine: rtp parameters carry no codecs")
	ErrNoEncodings      = errors.New("rtcengine: rtp parameters carry no encodings")
)

// MediaKind is the media kind of a track, "audio" or "video".
type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func (k MediaKind) RTPCodecType() webrtc.RTPCodecType {
	return webrtc.NewRTPCodecType(string(k))
}

// AppData is opaque application metadata attached to producers and
// consumers; it is echoed back to clients in acknowledgments.
type AppData map[string]interface{}

// TransportInfo is the client-facing description of a server-side
// transport, everything a client needs to connect to it.
type TransportInfo struct {
	ID             string                `json:"id"`
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

// RTPParameters describe a track a client sends or receives,
// mirroring the engine's produce/consume parameter shape.
type RTPParameters struct {
	MID              string                               `json:"mid,omitempty"`
	Codecs           []webrtc.RTPCodecParameters          `json:"codecs"`
	HeaderExtensions []webrtc.RTPHeaderExtensionParameter `json:"headerExtensions,omitempty"`
	Encodings        []webrtc.RTPCodingParameters         `json:"encodings,omitempty"`
}

// ConnectParameters is the remote side of a transport handshake. The
// engine needs the remote ICE ufrag/pwd and candidates alongside the
// DTLS parameters to start its transports.
type ConnectParameters struct {
	ICEParameters  webrtc.ICEParameters  `json:"iceParameters"`
	ICECandidates  []webrtc.ICECandidate `json:"iceCandidates"`
	DTLSParameters webrtc.DTLSParameters `json:"dtlsParameters"`
}

// Router is the engine-level entry point, created once at startup.
type Router interface {
	// RTPCapabilities are the codecs and header extensions the router
	// can route; clients intersect against them.
	RTPCapabilities() webrtc.RTPCapabilities
	CreateTransport() (Transport, error)
	// CanConsume reports whether a consumer with the given
	// capabilities can be bound to the identified producer.
	CanConsume(producerID string, caps webrtc.RTPCapabilities) bool
	Close() error
}

// Transport is one ICE/DTLS session between a client and the router.
// It is exclusively owned by a single peer.
type Transport interface {
	ID() string
	Info() TransportInfo
	Connect(params ConnectParameters) error
	Produce(kind MediaKind, params RTPParameters, appData AppData) (Producer, error)
	Consume(producerID string, caps webrtc.RTPCapabilities, appData AppData) (Consumer, error)
	// Close releases the underlying session. Double-close is a no-op.
	Close() error
}

// Producer is an inbound published track.
type Producer interface {
	ID() string
	Kind() MediaKind
	AppData() AppData
	Close() error
}

// Consumer is an outbound subscription bound to a producer.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() MediaKind
	RTPParameters() RTPParameters
	AppData() AppData
	Close() error
}
