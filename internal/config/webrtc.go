package config

import (
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
)

const frameMarking = "urn:ietf:params:rtp-hdrext:framemarking"

// DefaultEnabledCodecs matches the codec set negotiated by the original
// routing engine: opus for audio, VP8/VP9/H264 for video.
func DefaultEnabledCodecs() []CodecSpec {
	return []CodecSpec{
		{Mime: webrtc.MimeTypeOpus},
		{Mime: webrtc.MimeTypeVP8},
		{Mime: webrtc.MimeTypeVP9},
		{Mime: webrtc.MimeTypeH264},
	}
}

type WebRTCConfig struct {
	SettingEngine webrtc.SettingEngine
	Publisher     DirectionConfig
	Subscriber    DirectionConfig
}

type RTPHeaderExtensionConfig struct {
	Audio []string
	Video []string
}

type RTCPFeedbackConfig struct {
	Audio []webrtc.RTCPFeedback
	Video []webrtc.RTCPFeedback
}

type DirectionConfig struct {
	RTPHeaderExtension RTPHeaderExtensionConfig
	RTCPFeedback       RTCPFeedbackConfig
}

func NewWebRTCConfig(cfg *Config) (*WebRTCConfig, error) {
	s := webrtc.SettingEngine{}

	// Media always flows over UDP only.
	s.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6,
	})
	if err := s.SetEphemeralUDPPortRange(
		uint16(cfg.RTC.ICEPortRangeStart),
		uint16(cfg.RTC.ICEPortRangeEnd),
	); err != nil {
		return nil, err
	}
	if cfg.RTC.PublicIP != "" {
		// hosts behind NAT announce the configured public IP
		s.SetNAT1To1IPs([]string{cfg.RTC.PublicIP}, webrtc.ICECandidateTypeHost)
	}
	s.SetLite(true)

	publisherConfig := DirectionConfig{
		RTPHeaderExtension: RTPHeaderExtensionConfig{
			Audio: []string{
				sdp.SDESMidURI,
				sdp.SDESRTPStreamIDURI,
				sdp.AudioLevelURI,
			},
			Video: []string{
				sdp.SDESMidURI,
				sdp.SDESRTPStreamIDURI,
				sdp.TransportCCURI,
				frameMarking,
			},
		},
		RTCPFeedback: RTCPFeedbackConfig{
			Audio: []webrtc.RTCPFeedback{
				{Type: webrtc.TypeRTCPFBNACK},
				{Type: webrtc.TypeRTCPFBTransportCC},
			},
			Video: []webrtc.RTCPFeedback{
				{Type: webrtc.TypeRTCPFBGoogREMB},
				{Type: webrtc.TypeRTCPFBTransportCC},
				{Type: webrtc.TypeRTCPFBCCM, Parameter: "fir"},
				{Type: webrtc.TypeRTCPFBNACK},
				{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"},
			},
		},
	}

	subscriberConfig := DirectionConfig{
		RTCPFeedback: RTCPFeedbackConfig{
			Video: []webrtc.RTCPFeedback{
				{Type: webrtc.TypeRTCPFBCCM, Parameter: "fir"},
				{Type: webrtc.TypeRTCPFBNACK},
				{Type: webrtc.TypeRTCPFBNACK, Parameter: "pli"},
			},
		},
	}

	return &WebRTCConfig{
		SettingEngine: s,
		Publisher:     publisherConfig,
		Subscriber:    subscriberConfig,
	}, nil
}
