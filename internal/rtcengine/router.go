package rtcengine

import (
	"strings"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/rankland/broadcast-hub/internal/config"
)

// PionRouter implements Router on pion's ORTC API. One instance is
// created at startup and shared by every transport.
type PionRouter struct {
	api  *webrtc.API
	caps webrtc.RTPCapabilities

	mu         sync.RWMutex
	producers  map[string]*pionProducer
	transports map[string]*pionTransport
	closed     bool
}

func NewPionRouter(cfg *config.Config) (*PionRouter, error) {
	rtcConf, err := config.NewWebRTCConfig(cfg)
	if err != nil {
		return nil, err
	}

	mediaEngine, registry, err := newMediaEngine(cfg.Peer.EnabledCodecs, rtcConf.Publisher)
	if err != nil {
		return nil, err
	}

	se := rtcConf.SettingEngine
	se.DisableMediaEngineCopy(true)
	se.SetDTLSRetransmissionInterval(dtlsRetransmissionInterval)
	se.SetReceiveMTU(mtu)
	se.SetICETimeouts(iceDisconnectedTimeout, iceFailedTimeout, iceKeepaliveInterval)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(se),
		webrtc.WithInterceptorRegistry(registry),
	)

	return &PionRouter{
		api:        api,
		caps:       routerCapabilities(cfg.Peer.EnabledCodecs, rtcConf.Publisher),
		producers:  make(map[string]*pionProducer),
		transports: make(map[string]*pionTransport),
	}, nil
}

func (r *PionRouter) RTPCapabilities() webrtc.RTPCapabilities {
	return r.caps
}

func (r *PionRouter) CreateTransport() (Transport, error) {
	t, err := newPionTransport(r)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.transports[t.id] = t
	r.mu.Unlock()

	log.Debug().Str("service", "rtcengine").Str("transportID", t.id).Msg("created transport")

	return t, nil
}

func (r *PionRouter) CanConsume(producerID string, caps webrtc.RTPCapabilities) bool {
	producer := r.producer(producerID)
	if producer == nil {
		return false
	}

	for _, codec := range caps.Codecs {
		if strings.EqualFold(codec.MimeType, producer.codec.MimeType) {
			return true
		}
	}
	return false
}

func (r *PionRouter) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	transports := make([]*pionTransport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	for _, t := range transports {
		if err := t.Close(); err != nil {
			log.Error().Err(err).Str("service", "rtcengine").Str("transportID", t.id).Msg("close transport")
		}
	}
	return nil
}

func (r *PionRouter) producer(id string) *pionProducer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.producers[id]
}

func (r *PionRouter) registerProducer(p *pionProducer) {
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
}

func (r *PionRouter) deregisterProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
}

func (r *PionRouter) deregisterTransport(id string) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}
