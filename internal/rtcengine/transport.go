package rtcengine

import (
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"
)

const (
	rtcpPLIInterval            = time.Second * 3
	dtlsRetransmissionInterval = 100 * time.Millisecond
	mtu                        = 1400
	iceDisconnectedTimeout     = 10 * time.Second // compatible for ice-lite with firefox client
	iceFailedTimeout           = 25 * time.Second // pion's default
	iceKeepaliveInterval       = 2 * time.Second  // pion's default
)

type pionTransport struct {
	id     string
	router *PionRouter

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport

	info TransportInfo

	mu     sync.Mutex
	closed bool
}

func newPionTransport(router *PionRouter) (*pionTransport, error) {
	gatherer, err := router.api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, err
	}

	ice := router.api.NewICETransport(gatherer)

	dtls, err := router.api.NewDTLSTransport(ice, nil)
	if err != nil {
		return nil, err
	}

	gatherDone := make(chan struct{})
	gatherer.OnLocalCandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			close(gatherDone)
		}
	})
	if err := gatherer.Gather(); err != nil {
		return nil, err
	}
	<-gatherDone

	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		return nil, err
	}
	iceCandidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		return nil, err
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		return nil, err
	}

	t := &pionTransport{
		id:       uuid.NewString(),
		router:   router,
		gatherer: gatherer,
		ice:      ice,
		dtls:     dtls,
	}
	t.info = TransportInfo{
		ID:             t.id,
		ICEParameters:  iceParams,
		ICECandidates:  iceCandidates,
		DTLSParameters: dtlsParams,
	}

	return t, nil
}

func (t *pionTransport) ID() string {
	return t.id
}

func (t *pionTransport) Info() TransportInfo {
	return t.info
}

func (t *pionTransport) Connect(params ConnectParameters) error {
	if err := t.ice.SetRemoteCandidates(params.ICECandidates); err != nil {
		return err
	}

	// The router is ICE-lite: the remote side always controls.
	role := webrtc.ICERoleControlled
	if err := t.ice.Start(t.gatherer, params.ICEParameters, &role); err != nil {
		return err
	}

	return t.dtls.Start(params.DTLSParameters)
}

func (t *pionTransport) Produce(kind MediaKind, params RTPParameters, appData AppData) (Producer, error) {
	if len(params.Codecs) == 0 {
		return nil, ErrNoCodecs
	}
	if len(params.Encodings) == 0 {
		return nil, ErrNoEncodings
	}

	receiver, err := t.router.api.NewRTPReceiver(kind.RTPCodecType(), t.dtls)
	if err != nil {
		return nil, err
	}

	encodings := make([]webrtc.RTPDecodingParameters, 0, len(params.Encodings))
	for _, enc := range params.Encodings {
		encodings = append(encodings, webrtc.RTPDecodingParameters{RTPCodingParameters: enc})
	}
	if err := receiver.Receive(webrtc.RTPReceiveParameters{Encodings: encodings}); err != nil {
		return nil, err
	}

	codec := params.Codecs[0].RTPCodecCapability
	localTrack, err := webrtc.NewTrackLocalStaticRTP(codec, uuid.NewString(), string(kind))
	if err != nil {
		_ = receiver.Stop()
		return nil, err
	}

	producer := &pionProducer{
		id:         uuid.NewString(),
		kind:       kind,
		codec:      codec,
		appData:    appData,
		transport:  t,
		receiver:   receiver,
		localTrack: localTrack,
		stopPLI:    make(chan struct{}),
	}

	if kind == KindVideo {
		go producer.sendPLILoop(params.Encodings[0].SSRC)
	}
	go producer.forwardRTP()

	t.router.registerProducer(producer)

	return producer, nil
}

func (t *pionTransport) Consume(producerID string, caps webrtc.RTPCapabilities, appData AppData) (Consumer, error) {
	producer := t.router.producer(producerID)
	if producer == nil {
		return nil, ErrProducerNotFound
	}

	sender, err := t.router.api.NewRTPSender(producer.localTrack, t.dtls)
	if err != nil {
		return nil, err
	}

	sendParams := sender.GetParameters()
	if err := sender.Send(sendParams); err != nil {
		return nil, err
	}

	consumer := &pionConsumer{
		id:         uuid.NewString(),
		producerID: producerID,
		kind:       producer.kind,
		appData:    appData,
		sender:     sender,
		params:     sendParametersToRTPParameters(sendParams),
	}

	// Drain RTCP reports so interceptors (NACK and friends) keep
	// working for this sender.
	go consumer.drainRTCP()

	return consumer, nil
}

func (t *pionTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.router.deregisterTransport(t.id)

	if err := t.dtls.Stop(); err != nil {
		log.Debug().Err(err).Str("service", "rtcengine").Str("transportID", t.id).Msg("stop dtls")
	}
	if err := t.ice.Stop(); err != nil {
		log.Debug().Err(err).Str("service", "rtcengine").Str("transportID", t.id).Msg("stop ice")
	}
	return t.gatherer.Close()
}

type pionProducer struct {
	id         string
	kind       MediaKind
	codec      webrtc.RTPCodecCapability
	appData    AppData
	transport  *pionTransport
	receiver   *webrtc.RTPReceiver
	localTrack *webrtc.TrackLocalStaticRTP

	mu      sync.Mutex
	closed  bool
	stopPLI chan struct{}
}

func (p *pionProducer) ID() string {
	return p.id
}

func (p *pionProducer) Kind() MediaKind {
	return p.kind
}

func (p *pionProducer) AppData() AppData {
	return p.appData
}

func (p *pionProducer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stopPLI)
	p.mu.Unlock()

	p.transport.router.deregisterProducer(p.id)

	return p.receiver.Stop()
}

// forwardRTP pumps packets from the remote track into the shared local
// track every consumer is subscribed to.
func (p *pionProducer) forwardRTP() {
	track := p.receiver.Track()
	buf := make([]byte, mtu)
	packet := &rtp.Packet{}
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Str("service", "rtcengine").Str("producerID", p.id).Msg("read rtp")
			}
			return
		}
		if err := packet.Unmarshal(buf[:n]); err != nil {
			log.Debug().Err(err).Str("service", "rtcengine").Str("producerID", p.id).Msg("unmarshal rtp")
			continue
		}
		if err := p.localTrack.WriteRTP(packet); err != nil && err != io.ErrClosedPipe {
			log.Debug().Err(err).Str("service", "rtcengine").Str("producerID", p.id).Msg("write rtp")
			return
		}
	}
}

// sendPLILoop requests a keyframe from the publisher on an interval so
// late-joining consumers can render without waiting.
func (p *pionProducer) sendPLILoop(ssrc webrtc.SSRC) {
	ticker := time.NewTicker(rtcpPLIInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopPLI:
			return
		case <-ticker.C:
			_, err := p.transport.dtls.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)},
			})
			if err != nil {
				log.Debug().Err(err).Str("service", "rtcengine").Str("producerID", p.id).Msg("send pli")
				return
			}
		}
	}
}

type pionConsumer struct {
	id         string
	producerID string
	kind       MediaKind
	appData    AppData
	sender     *webrtc.RTPSender
	params     RTPParameters

	mu     sync.Mutex
	closed bool
}

func (c *pionConsumer) ID() string {
	return c.id
}

func (c *pionConsumer) ProducerID() string {
	return c.producerID
}

func (c *pionConsumer) Kind() MediaKind {
	return c.kind
}

func (c *pionConsumer) RTPParameters() RTPParameters {
	return c.params
}

func (c *pionConsumer) AppData() AppData {
	return c.appData
}

func (c *pionConsumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	return c.sender.Stop()
}

func (c *pionConsumer) drainRTCP() {
	buf := make([]byte, mtu)
	for {
		if _, _, err := c.sender.Read(buf); err != nil {
			return
		}
	}
}

func sendParametersToRTPParameters(params webrtc.RTPSendParameters) RTPParameters {
	encodings := make([]webrtc.RTPCodingParameters, 0, len(params.Encodings))
	for _, enc := range params.Encodings {
		encodings = append(encodings, enc.RTPCodingParameters)
	}
	return RTPParameters{
		Codecs:           params.Codecs,
		HeaderExtensions: params.HeaderExtensions,
		Encodings:        encodings,
	}
}
