package av

import (
	"io"
)

// FLV tag types
const (
	TAG_AUDIO          = 0x08
	TAG_VIDEO          = 0x09
	TAG_SCRIPTDATAAMF0 = 0x12
	TAG_SCRIPTDATAAMF3 = 0x0f
)

// audio tag header
const (
	SOUND_MP3 = 2
	SOUND_AAC = 10

	AAC_SEQHDR = 0
	AAC_RAW    = 1
)

// video tag header
const (
	FRAME_KEY   = 1
	FRAME_INTER = 2

	CODEC_AVC  = 7
	CODEC_HEVC = 12

	AVC_SEQHDR = 0
	AVC_NALU   = 1
	AVC_EOS    = 2
)

var (
	PUBLISH = "publish"
	PLAY    = "play"
)

// HeaderParser classifies audio and video payloads. It is the only place
// the cache depends on codec details.
type HeaderParser interface {
	ParseAudioHeader(data []byte) (AudioPacketHeader, error)
	ParseVideoHeader(data []byte) (VideoPacketHeader, error)
}

type Writer interface {
	Write(*Packet) error
}

type Reader interface {
	Read() (*Packet, error)
}

type ReadCloser interface {
	io.Closer
	Reader
}

type WriteCloser interface {
	io.Closer
	Writer
}
