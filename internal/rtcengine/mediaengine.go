package rtcengine

import (
	"strings"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/rankland/broadcast-hub/internal/config"
)

func newMediaEngine(enabledCodecs []config.CodecSpec, directionConfig config.DirectionConfig) (*webrtc.MediaEngine, *interceptor.Registry, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := registerCodecs(mediaEngine, enabledCodecs, directionConfig.RTCPFeedback); err != nil {
		return nil, nil, err
	}
	if err := registerHeaderExtensions(mediaEngine, directionConfig.RTPHeaderExtension); err != nil {
		return nil, nil, err
	}

	// RTPReceivers/RTPSenders are constructed manually here, so the
	// interceptor pipeline (NACK, RTCP reports) must be built manually
	// too; webrtc.NewPeerConnection would otherwise do this for us.
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, nil, err
	}

	return mediaEngine, registry, nil
}

func routerCapabilities(enabledCodecs []config.CodecSpec, directionConfig config.DirectionConfig) webrtc.RTPCapabilities {
	caps := webrtc.RTPCapabilities{}

	for _, params := range codecTable(directionConfig.RTCPFeedback) {
		if isCodecEnabled(enabledCodecs, params.RTPCodecCapability) {
			caps.Codecs = append(caps.Codecs, params.RTPCodecCapability)
		}
	}
	for _, uri := range directionConfig.RTPHeaderExtension.Audio {
		caps.HeaderExtensions = append(caps.HeaderExtensions, webrtc.RTPHeaderExtensionCapability{URI: uri})
	}
	for _, uri := range directionConfig.RTPHeaderExtension.Video {
		caps.HeaderExtensions = append(caps.HeaderExtensions, webrtc.RTPHeaderExtensionCapability{URI: uri})
	}

	return caps
}

func registerCodecs(
	mediaEngine *webrtc.MediaEngine,
	enabledCodecs []config.CodecSpec,
	rtcpFeedback config.RTCPFeedbackConfig,
) error {
	for _, params := range codecTable(rtcpFeedback) {
		if !isCodecEnabled(enabledCodecs, params.RTPCodecCapability) {
			continue
		}
		kind := webrtc.RTPCodecTypeVideo
		if strings.HasPrefix(strings.ToLower(params.MimeType), "audio/") {
			kind = webrtc.RTPCodecTypeAudio
		}
		if err := mediaEngine.RegisterCodec(params, kind); err != nil {
			return err
		}
	}
	return nil
}

func codecTable(rtcpFeedback config.RTCPFeedbackConfig) []webrtc.RTPCodecParameters {
	return []webrtc.RTPCodecParameters{
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     webrtc.MimeTypeOpus,
				ClockRate:    48000,
				Channels:     2,
				SDPFmtpLine:  "minptime=10;useinbandfec=1",
				RTCPFeedback: rtcpFeedback.Audio,
			},
			PayloadType: 111,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     webrtc.MimeTypeVP8,
				ClockRate:    90000,
				RTCPFeedback: rtcpFeedback.Video,
			},
			PayloadType: 96,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     webrtc.MimeTypeVP9,
				ClockRate:    90000,
				SDPFmtpLine:  "profile-id=0",
				RTCPFeedback: rtcpFeedback.Video,
			},
			PayloadType: 98,
		},
		{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     webrtc.MimeTypeH264,
				ClockRate:    90000,
				SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
				RTCPFeedback: rtcpFeedback.Video,
			},
			PayloadType: 125,
		},
	}
}

func registerHeaderExtensions(me *webrtc.MediaEngine, rtpHeaderExtension config.RTPHeaderExtensionConfig) error {
	for _, extension := range rtpHeaderExtension.Video {
		if err := me.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: extension}, webrtc.RTPCodecTypeVideo); err != nil {
			return err
		}
	}
	for _, extension := range rtpHeaderExtension.Audio {
		if err := me.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: extension}, webrtc.RTPCodecTypeAudio); err != nil {
			return err
		}
	}
	return nil
}

func isCodecEnabled(codecs []config.CodecSpec, cap webrtc.RTPCodecCapability) bool {
	for _, codec := range codecs {
		if !strings.EqualFold(codec.Mime, cap.MimeType) {
			continue
		}
		if codec.FmtpLine == "" || strings.EqualFold(codec.FmtpLine, cap.SDPFmtpLine) {
			return true
		}
	}
	return false
}
