package flv

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/zijiren233/livecache/av"
)

func TestWriterReader(t *testing.T) {
	packets := []*av.Packet{
		av.NewMetadataPacket([]byte{0x02, 0x00, 0x0a}, 0),
		av.NewVideoPacket([]byte{0x17, 0x00, 0x00, 0x00, 0x00}, 0),
		av.NewAudioPacket([]byte{0xaf, 0x00, 0x12, 0x10}, 0),
		av.NewVideoPacket([]byte{0x27, 0x01, 0x00, 0x00, 0x00, 0xaa}, 40),
		av.NewAudioPacket([]byte{0xaf, 0x01, 0x21}, 0x01000005),
	}

	buf := bytes.NewBuffer(nil)
	w := NewWriter(buf)
	for _, p := range packets {
		if err := w.Write(p); err != nil {
			t.Fatal(err)
		}
	}
	if !bytes.HasPrefix(buf.Bytes(), FlvFirstHeader) {
		t.Fatalf("missing flv header")
	}

	r := NewReader(buf)
	for i, want := range packets {
		got, err := r.Read()
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("read %d = %+v, want %+v", i, got, want)
		}
	}
	if _, err := r.Read(); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestWriterRejectsUntypedPacket(t *testing.T) {
	w := NewWriter(io.Discard)
	if err := w.Write(&av.Packet{}); !errors.Is(err, ErrPacketType) {
		t.Errorf("err = %v, want ErrPacketType", err)
	}
}

func TestReaderBadHeader(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte("NOTANFLVFILE")))
	if _, err := r.Read(); !errors.Is(err, ErrHeader) {
		t.Errorf("err = %v, want ErrHeader", err)
	}
}

func TestReaderBadPreTagSize(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	if err := NewWriter(buf).Write(av.NewAudioPacket([]byte{0x2f}, 0)); err != nil {
		t.Fatal(err)
	}
	b := buf.Bytes()
	b[len(b)-1]++
	if _, err := NewReader(bytes.NewReader(b)).Read(); !errors.Is(err, ErrPreDataLen) {
		t.Errorf("err = %v, want ErrPreDataLen", err)
	}
}

func TestReaderMaxTagSize(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	if err := NewWriter(buf).Write(av.NewAudioPacket(make([]byte, 64), 0)); err != nil {
		t.Fatal(err)
	}
	r := NewReader(buf, WithMaxTagSize(32))
	if _, err := r.Read(); !errors.Is(err, ErrTagTooBig) {
		t.Errorf("err = %v, want ErrTagTooBig", err)
	}
}
