package flv

import (
	"errors"
	"io"

	"github.com/zijiren233/livecache/av"
	"github.com/zijiren233/stream"
)

var (
	FlvHeader          = []byte{0x46, 0x4c, 0x56, 0x01, 0x05, 0x00, 0x00, 0x00, 0x09}
	FlvFirstPreTagSize = []byte{0x00, 0x00, 0x00, 0x00}
	FlvFirstHeader     = append(FlvHeader, FlvFirstPreTagSize...)
)

const (
	headerLen = 11
)

var ErrPacketType = errors.New("not allowed packet type")

// Writer encodes packets as an FLV byte stream. It is not safe for
// concurrent use.
type Writer struct {
	w      *stream.Writer
	inited bool
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w: stream.NewWriter(w, stream.BigEndian),
	}
}

func (w *Writer) Write(p *av.Packet) error {
	if !w.inited {
		if err := w.w.Bytes(FlvFirstHeader).Error(); err != nil {
			return err
		}
		w.inited = true
	}

	var typeID uint8
	if p.IsVideo {
		typeID = av.TAG_VIDEO
	} else if p.IsMetadata {
		typeID = av.TAG_SCRIPTDATAAMF0
	} else if p.IsAudio {
		typeID = av.TAG_AUDIO
	} else {
		return ErrPacketType
	}
	dataLen := len(p.Data)
	preDataLen := dataLen + headerLen
	timestampExt := p.TimeStamp >> 24

	return w.w.
		U8(typeID).
		U24(uint32(dataLen)).
		U24(p.TimeStamp&0xffffff).
		U8(uint8(timestampExt)).
		U24(0).
		Bytes(p.Data).
		U32(uint32(preDataLen)).Error()
}

// WriteCloser is a Writer that closes the underlying stream, so it can be
// added to a channel as a player.
type WriteCloser struct {
	*Writer
	c io.Closer
}

func NewWriteCloser(w io.WriteCloser) *WriteCloser {
	return &WriteCloser{
		Writer: NewWriter(w),
		c:      w,
	}
}

func (w *WriteCloser) Close() error {
	return w.c.Close()
}
