package av

import "errors"

var ErrClosed = errors.New("channel closed")

// Packet is one metadata, audio or video unit. Data is treated as
// immutable once the packet has been handed to a cache or a writer.
type Packet struct {
	IsAudio    bool
	IsVideo    bool
	IsMetadata bool
	TimeStamp  uint32 // dts
	StreamID   uint32
	Data       []byte
}

func NewMetadataPacket(data []byte, timestamp uint32) *Packet {
	return &Packet{IsMetadata: true, TimeStamp: timestamp, Data: data}
}

func NewAudioPacket(data []byte, timestamp uint32) *Packet {
	return &Packet{IsAudio: true, TimeStamp: timestamp, Data: data}
}

func NewVideoPacket(data []byte, timestamp uint32) *Packet {
	return &Packet{IsVideo: true, TimeStamp: timestamp, Data: data}
}

func (p *Packet) Type() int {
	if p.IsVideo {
		return TAG_VIDEO
	} else if p.IsMetadata {
		return TAG_SCRIPTDATAAMF0
	} else {
		return TAG_AUDIO
	}
}

// Clone copies the packet header and shares Data.
func (p *Packet) Clone() *Packet {
	var tp = *p
	return &tp
}

// DeepClone copies the packet including its payload.
func (p *Packet) DeepClone() *Packet {
	var tp = *p
	tp.Data = make([]byte, len(p.Data))
	copy(tp.Data, p.Data)
	return &tp
}

const DropDefaultNum = 256

func DropPacket(pktQue chan *Packet) (n int) {
	return DropNPacket(pktQue, DropDefaultNum)
}

func DropNPacket(pktQue chan *Packet, dn int) (n int) {
	for {
		select {
		case _, ok := <-pktQue:
			if !ok {
				return n
			}
			n++
			if n == dn {
				return n
			}
		default:
			return n
		}
	}
}

type AudioPacketHeader interface {
	SoundFormat() uint8
	AACPacketType() uint8
}

type VideoPacketHeader interface {
	IsKeyFrame() bool
	IsSeq() bool
	CodecID() uint8
	CompositionTime() int32
}
