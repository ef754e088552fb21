package capture

import (
	"strings"

	"github.com/pion/webrtc/v3"
)

// Codec is the video codec of the ingested RTP stream.
type Codec string

const (
	CodecVP8  Codec = "vp8"
	CodecVP9  Codec = "vp9"
	CodecH264 Codec = "h264"
)

// CodecInfo describes a codec option for the UI.
type CodecInfo struct {
	Codec       Codec
	Name        string
	Description string
}

// Codecs lists the supported codecs, default first.
var Codecs = []CodecInfo{
	{Codec: CodecVP8, Name: "VP8", Description: "fast, compatible"},
	{Codec: CodecVP9, Name: "VP9", Description: "better quality"},
	{Codec: CodecH264, Name: "H.264", Description: "hardware encoders"},
}

// ParseCodec parses a --codec flag value. Unknown values select VP8.
func ParseCodec(value string) Codec {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "vp9":
		return CodecVP9
	case "h264", "h.264", "avc":
		return CodecH264
	default:
		return CodecVP8
	}
}

// MimeType returns the WebRTC MIME type of c.
func (c Codec) MimeType() string {
	switch c {
	case CodecVP9:
		return webrtc.MimeTypeVP9
	case CodecH264:
		return webrtc.MimeTypeH264
	default:
		return webrtc.MimeTypeVP8
	}
}

// capability is the track codec advertised in SDP.
func (c Codec) capability() webrtc.RTPCodecCapability {
	capability := webrtc.RTPCodecCapability{MimeType: c.MimeType(), ClockRate: 90000}
	if c == CodecH264 {
		capability.SDPFmtpLine = "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"
	}
	return capability
}
