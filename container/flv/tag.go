package flv

import (
	"errors"

	"github.com/zijiren233/livecache/av"
)

var (
	ErrInvalidAudioData = errors.New("invalid audio data")
	ErrInvalidVideoData = errors.New("invalid video data")
)

// TagHeader is the codec header at the start of an FLV audio or video tag
// body.
type TagHeader struct {
	// audio: first byte is format(4) rate(2) size(1) type(1)
	soundFormat   uint8
	soundRate     uint8
	soundSize     uint8
	soundType     uint8
	aacPacketType uint8

	// video: first byte is frame type(4) codec id(4), AVC and HEVC add a
	// packet type and a signed 24 bit composition time
	frameType       uint8
	codecID         uint8
	avcPacketType   uint8
	compositionTime int32
}

func (h *TagHeader) SoundFormat() uint8 {
	return h.soundFormat
}

func (h *TagHeader) SoundRate() uint8 {
	return h.soundRate
}

func (h *TagHeader) AACPacketType() uint8 {
	return h.aacPacketType
}

func (h *TagHeader) IsKeyFrame() bool {
	return h.frameType == av.FRAME_KEY
}

// IsSeq reports whether the tag carries an AVC or HEVC decoder
// configuration record.
func (h *TagHeader) IsSeq() bool {
	return h.frameType == av.FRAME_KEY &&
		hasPacketType(h.codecID) &&
		h.avcPacketType == av.AVC_SEQHDR
}

func hasPacketType(codecID uint8) bool {
	return codecID == av.CODEC_AVC || codecID == av.CODEC_HEVC
}

func (h *TagHeader) AVCPacketType() uint8 {
	return h.avcPacketType
}

func (h *TagHeader) CodecID() uint8 {
	return h.codecID
}

func (h *TagHeader) CompositionTime() int32 {
	return h.compositionTime
}

func (h *TagHeader) parseAudio(b []byte) error {
	if len(b) < 1 {
		return ErrInvalidAudioData
	}
	h.soundFormat = b[0] >> 4
	h.soundRate = (b[0] >> 2) & 0x3
	h.soundSize = (b[0] >> 1) & 0x1
	h.soundType = b[0] & 0x1
	if h.soundFormat == av.SOUND_AAC {
		if len(b) < 2 {
			return ErrInvalidAudioData
		}
		h.aacPacketType = b[1]
	}
	return nil
}

func (h *TagHeader) parseVideo(b []byte) error {
	if len(b) < 1 {
		return ErrInvalidVideoData
	}
	h.frameType = b[0] >> 4
	h.codecID = b[0] & 0x0f
	if !hasPacketType(h.codecID) ||
		(h.frameType != av.FRAME_KEY && h.frameType != av.FRAME_INTER) {
		return nil
	}
	if len(b) < 5 {
		return ErrInvalidVideoData
	}
	h.avcPacketType = b[1]
	cts := int32(b[2])<<16 | int32(b[3])<<8 | int32(b[4])
	if cts&0x800000 != 0 {
		cts -= 1 << 24
	}
	h.compositionTime = cts
	return nil
}

// Parser classifies FLV audio and video tag payloads.
type Parser struct{}

var _ av.HeaderParser = Parser{}

func (Parser) ParseAudioHeader(data []byte) (av.AudioPacketHeader, error) {
	h := new(TagHeader)
	if err := h.parseAudio(data); err != nil {
		return nil, err
	}
	return h, nil
}

func (Parser) ParseVideoHeader(data []byte) (av.VideoPacketHeader, error) {
	h := new(TagHeader)
	if err := h.parseVideo(data); err != nil {
		return nil, err
	}
	return h, nil
}
