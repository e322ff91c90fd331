package flv

import (
	"bufio"
	"bytes"
	"errors"
	"io"

	"github.com/zijiren233/livecache/av"
	"github.com/zijiren233/livecache/utils/pio"
)

type Reader struct {
	r            *bufio.Reader
	inited       bool
	tagHeaderBuf []byte
	bufSize      int
	maxTagSize   uint32
}

type ReaderConf func(*Reader)

func WithReaderBuffer(size int) ReaderConf {
	return func(r *Reader) {
		r.bufSize = size
	}
}

// WithMaxTagSize rejects tags whose declared data size exceeds size.
func WithMaxTagSize(size uint32) ReaderConf {
	return func(r *Reader) {
		r.maxTagSize = size
	}
}

func NewReader(r io.Reader, conf ...ReaderConf) *Reader {
	reader := &Reader{
		tagHeaderBuf: make([]byte, headerLen),
		bufSize:      1024,
		maxTagSize:   16 << 20,
	}
	for _, rc := range conf {
		rc(reader)
	}
	reader.r = bufio.NewReaderSize(r, reader.bufSize)
	return reader
}

var (
	ErrHeader     = errors.New("read flv header error")
	ErrPreDataLen = errors.New("read flv pre data len error")
	ErrTagTooBig  = errors.New("flv tag too big")
)

// Read returns the next audio, video or script tag. Tags of other types are
// skipped.
func (fr *Reader) Read() (p *av.Packet, err error) {
	if !fr.inited {
		if _, err := io.ReadFull(fr.r, fr.tagHeaderBuf[:9]); err != nil {
			return nil, err
		} else if !bytes.Equal(fr.tagHeaderBuf[:3], FlvHeader[:3]) {
			return nil, ErrHeader
		} else if _, err := io.ReadFull(fr.r, fr.tagHeaderBuf[:4]); err != nil {
			return nil, err
		} else if !bytes.Equal(fr.tagHeaderBuf[:4], FlvFirstPreTagSize) {
			return nil, ErrHeader
		}
		fr.inited = true
	}

	for {
		if _, err := io.ReadFull(fr.r, fr.tagHeaderBuf); err != nil {
			return nil, err
		}
		tagType := fr.tagHeaderBuf[0]
		dataLen := pio.U24BE(fr.tagHeaderBuf[1:4])
		timestampbase := pio.U24BE(fr.tagHeaderBuf[4:7])
		timestampExt := pio.U8(fr.tagHeaderBuf[7:8])
		if dataLen > fr.maxTagSize {
			return nil, ErrTagTooBig
		}

		data := make([]byte, dataLen)
		if _, err := io.ReadFull(fr.r, data); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(fr.r, fr.tagHeaderBuf[:4]); err != nil {
			return nil, err
		}
		preDataLen := pio.U32BE(fr.tagHeaderBuf[:4])
		if preDataLen != dataLen+headerLen {
			return nil, ErrPreDataLen
		}

		switch tagType {
		case av.TAG_AUDIO, av.TAG_VIDEO, av.TAG_SCRIPTDATAAMF0, av.TAG_SCRIPTDATAAMF3:
		default:
			continue
		}

		p = new(av.Packet)
		p.IsVideo = tagType == av.TAG_VIDEO
		p.IsAudio = tagType == av.TAG_AUDIO
		p.IsMetadata = tagType == av.TAG_SCRIPTDATAAMF0 || tagType == av.TAG_SCRIPTDATAAMF3
		p.TimeStamp = uint32(timestampExt)<<24 | timestampbase
		p.Data = data
		return p, nil
	}
}
