package cache

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/zijiren233/livecache/av"
	"github.com/zijiren233/livecache/container/flv"
)

var (
	videoSeqHdr = []byte{0x17, 0x00, 0x00, 0x00, 0x00, 0x01, 0x64}
	keyNalu     = []byte{0x17, 0x01, 0x00, 0x00, 0x00, 0x65}
	interNalu   = []byte{0x27, 0x01, 0x00, 0x00, 0x00, 0x41}
	aacSeqHdr   = []byte{0xaf, 0x00, 0x12, 0x10}
	aacRaw      = []byte{0xaf, 0x01, 0x21}
	mp3Frame    = []byte{0x2f, 0xff, 0xfb}
)

type recorder struct {
	packets []*av.Packet
	failAt  int
}

func (r *recorder) Write(p *av.Packet) error {
	if r.failAt > 0 && len(r.packets)+1 == r.failAt {
		return av.ErrClosed
	}
	r.packets = append(r.packets, p)
	return nil
}

func mustVideo(t *testing.T, c *Cache, data []byte, ts uint32) {
	t.Helper()
	if err := c.SaveVideoSeq(data, ts); err != nil {
		t.Fatalf("SaveVideoSeq(%d): %v", ts, err)
	}
}

func mustAudio(t *testing.T, c *Cache, data []byte, ts uint32) {
	t.Helper()
	if err := c.SaveAudioSeq(data, ts); err != nil {
		t.Fatalf("SaveAudioSeq(%d): %v", ts, err)
	}
}

func gopTimestamps(gops []*Gop) [][]uint32 {
	out := make([][]uint32, 0, len(gops))
	for _, g := range gops {
		var ts []uint32
		for _, p := range g.Packets() {
			ts = append(ts, p.TimeStamp)
		}
		out = append(out, ts)
	}
	return out
}

func TestMetadataOverwrite(t *testing.T) {
	c := DefaultCache()
	c.SaveMetadata([]byte("A"), 1)
	c.SaveMetadata([]byte("B"), 2)

	p, ok := c.GetMetadata()
	if !ok {
		t.Fatal("metadata absent")
	}
	if !p.IsMetadata || string(p.Data) != "B" || p.TimeStamp != 2 {
		t.Errorf("metadata = %+v, want B at 2", p)
	}
}

func TestEmptyMetadataIsAbsent(t *testing.T) {
	c := DefaultCache()
	c.SaveMetadata([]byte("A"), 1)
	c.SaveMetadata(nil, 2)
	if _, ok := c.GetMetadata(); ok {
		t.Error("empty metadata should read as absent")
	}
}

func TestAudioSeqGating(t *testing.T) {
	c := DefaultCache()
	mustAudio(t, c, aacRaw, 1)
	mustAudio(t, c, mp3Frame, 2)
	if _, ok := c.GetAudioSeq(); ok {
		t.Fatal("non sequence header audio updated the audio seq")
	}

	mustAudio(t, c, aacSeqHdr, 3)
	mustAudio(t, c, aacRaw, 4)
	p, ok := c.GetAudioSeq()
	if !ok {
		t.Fatal("audio seq absent")
	}
	if !p.IsAudio || p.TimeStamp != 3 || !reflect.DeepEqual(p.Data, aacSeqHdr) {
		t.Errorf("audio seq = %+v, want aac seq header at 3", p)
	}
}

func TestVideoSeqGating(t *testing.T) {
	c := DefaultCache()
	mustVideo(t, c, keyNalu, 1)
	mustVideo(t, c, interNalu, 2)
	if _, ok := c.GetVideoSeq(); ok {
		t.Fatal("frames updated the video seq")
	}

	mustVideo(t, c, videoSeqHdr, 3)
	mustVideo(t, c, keyNalu, 4)
	p, ok := c.GetVideoSeq()
	if !ok {
		t.Fatal("video seq absent")
	}
	if !p.IsVideo || p.TimeStamp != 3 || !reflect.DeepEqual(p.Data, videoSeqHdr) {
		t.Errorf("video seq = %+v, want avc seq header at 3", p)
	}
}

func TestHEVCVideoSeq(t *testing.T) {
	hevcSeqHdr := []byte{0x1c, 0x00, 0x00, 0x00, 0x00, 0x01}
	hevcKey := []byte{0x1c, 0x01, 0x00, 0x00, 0x00, 0x26}
	hevcInter := []byte{0x2c, 0x01, 0x00, 0x00, 0x00, 0x02}

	c := NewCache(1)
	mustVideo(t, c, hevcSeqHdr, 1)
	mustVideo(t, c, hevcKey, 1)
	mustVideo(t, c, hevcInter, 2)
	mustVideo(t, c, hevcKey, 3)
	mustVideo(t, c, hevcInter, 4)
	mustVideo(t, c, hevcKey, 5)

	p, ok := c.GetVideoSeq()
	if !ok {
		t.Fatal("hevc seq header not kept as video seq")
	}
	if p.TimeStamp != 1 || !reflect.DeepEqual(p.Data, hevcSeqHdr) {
		t.Errorf("video seq = %+v, want hevc seq header at 1", p)
	}
	// the in-band header left the window, the slot still serves joiners
	snap := c.Snapshot()
	if got := gopTimestamps(snap.Gops); !reflect.DeepEqual(got, [][]uint32{{3, 4}}) {
		t.Errorf("gops = %v", got)
	}
	if snap.VideoSeq == nil || !reflect.DeepEqual(snap.VideoSeq.Data, hevcSeqHdr) {
		t.Errorf("snapshot video seq = %+v", snap.VideoSeq)
	}
}

func TestGopWindowing(t *testing.T) {
	c := NewCache(2)
	for _, f := range []struct {
		data []byte
		ts   uint32
	}{
		{keyNalu, 10}, {interNalu, 11}, {interNalu, 12},
		{keyNalu, 20}, {interNalu, 21},
		{keyNalu, 30}, {interNalu, 31},
	} {
		mustVideo(t, c, f.data, f.ts)
	}

	gops, ok := c.GetGopsData()
	if !ok {
		t.Fatal("gops absent")
	}
	want := [][]uint32{{10, 11, 12}, {20, 21}}
	if got := gopTimestamps(gops); !reflect.DeepEqual(got, want) {
		t.Errorf("gops = %v, want %v", got, want)
	}
	for _, g := range gops {
		if !g.StartsWithKeyFrame() {
			t.Errorf("gop at %d does not start with a key frame", g.Timestamp())
		}
	}
}

func TestGopEvictionFIFO(t *testing.T) {
	c := NewCache(1)
	mustVideo(t, c, keyNalu, 10)
	mustVideo(t, c, interNalu, 11)
	mustVideo(t, c, keyNalu, 20)
	mustVideo(t, c, interNalu, 21)
	mustVideo(t, c, keyNalu, 30)

	gops, _ := c.GetGopsData()
	want := [][]uint32{{20, 21}}
	if got := gopTimestamps(gops); !reflect.DeepEqual(got, want) {
		t.Errorf("gops = %v, want %v", got, want)
	}
	if s := c.Stats(); s.Committed != 2 || s.Evicted != 1 || s.OpenFrames != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestAbsence(t *testing.T) {
	for _, n := range []int{0, 1, 3} {
		c := NewCache(n)
		if _, ok := c.GetMetadata(); ok {
			t.Errorf("NewCache(%d): metadata present", n)
		}
		if _, ok := c.GetAudioSeq(); ok {
			t.Errorf("NewCache(%d): audio seq present", n)
		}
		if _, ok := c.GetVideoSeq(); ok {
			t.Errorf("NewCache(%d): video seq present", n)
		}
		if gops, ok := c.GetGopsData(); ok || gops != nil {
			t.Errorf("NewCache(%d): gops = %v, %v", n, gops, ok)
		}
	}

	c := DefaultCache()
	c.SaveMetadata([]byte("meta"), 0)
	if _, ok := c.GetGopsData(); ok {
		t.Error("metadata alone must not mark gops as set")
	}
	mustVideo(t, c, keyNalu, 0)
	gops, ok := c.GetGopsData()
	if !ok || gops == nil || len(gops) != 0 {
		t.Errorf("gops = %v, %v, want empty and present", gops, ok)
	}
}

func TestIdempotentSnapshot(t *testing.T) {
	c := NewCache(3)
	mustVideo(t, c, keyNalu, 10)
	mustAudio(t, c, aacRaw, 11)
	mustVideo(t, c, keyNalu, 20)

	a, _ := c.GetGopsData()
	b, _ := c.GetGopsData()
	if !reflect.DeepEqual(gopTimestamps(a), gopTimestamps(b)) {
		t.Errorf("snapshots differ: %v vs %v", gopTimestamps(a), gopTimestamps(b))
	}
	if !reflect.DeepEqual(c.Snapshot(), c.Snapshot()) {
		t.Error("Snapshot is not stable without writes")
	}
}

func TestParseFailureHasNoSideEffects(t *testing.T) {
	c := NewCache(2)
	c.SaveMetadata([]byte("meta"), 0)
	mustVideo(t, c, videoSeqHdr, 0)
	mustAudio(t, c, aacSeqHdr, 0)
	mustVideo(t, c, keyNalu, 10)
	mustVideo(t, c, interNalu, 11)

	before := c.Snapshot()
	beforeStats := c.Stats()

	for _, data := range [][]byte{nil, {0x17}, {0x17, 0x00, 0x00}} {
		err := c.SaveVideoSeq(data, 99)
		if !errors.Is(err, ErrParse) {
			t.Fatalf("SaveVideoSeq(%v) err = %v, want ErrParse", data, err)
		}
		if !errors.Is(err, flv.ErrInvalidVideoData) {
			t.Errorf("err = %v does not wrap the parser error", err)
		}
		var pe *ParseError
		if !errors.As(err, &pe) || pe.Media != "video" {
			t.Errorf("err = %#v, want *ParseError for video", err)
		}
	}
	if err := c.SaveAudioSeq([]byte{0xaf}, 99); !errors.Is(err, ErrParse) {
		t.Fatalf("SaveAudioSeq err = %v, want ErrParse", err)
	}

	if after := c.Snapshot(); !reflect.DeepEqual(before, after) {
		t.Errorf("snapshot changed after parse failures")
	}
	if after := c.Stats(); after != beforeStats {
		t.Errorf("stats changed: %+v -> %+v", beforeStats, after)
	}
}

func TestAudioOnlyStream(t *testing.T) {
	c := NewCache(2, WithGopCacheConf(WithMaxGopFrames(4)))
	mustAudio(t, c, aacSeqHdr, 0)
	if !c.Setted() {
		t.Fatal("cache not set after the first audio unit")
	}
	if gops, ok := c.GetGopsData(); !ok || len(gops) != 0 {
		t.Fatalf("gops = %v, %v", gops, ok)
	}

	for ts := uint32(1); ts < 10; ts++ {
		mustAudio(t, c, aacRaw, ts)
	}
	gops, _ := c.GetGopsData()
	want := [][]uint32{{0, 1, 2, 3}, {4, 5, 6, 7}}
	if got := gopTimestamps(gops); !reflect.DeepEqual(got, want) {
		t.Errorf("gops = %v, want %v", got, want)
	}
	for _, g := range gops {
		for _, p := range g.Packets() {
			if !p.IsAudio {
				t.Errorf("non audio packet %+v in audio-only gop", p)
			}
		}
	}
	if c.HasVideo() {
		t.Error("HasVideo on an audio-only stream")
	}
}

func TestFirstVideoPurgesAudioOnlyHistory(t *testing.T) {
	c := NewCache(2, WithGopCacheConf(WithMaxGopFrames(2)))
	for ts := uint32(0); ts < 5; ts++ {
		mustAudio(t, c, aacRaw, ts)
	}
	if gops, _ := c.GetGopsData(); len(gops) != 2 {
		t.Fatalf("audio-only gops = %d, want 2", len(gops))
	}

	mustVideo(t, c, keyNalu, 10)
	mustAudio(t, c, aacRaw, 11)
	mustVideo(t, c, keyNalu, 20)

	gops, _ := c.GetGopsData()
	want := [][]uint32{{10, 11}}
	if got := gopTimestamps(gops); !reflect.DeepEqual(got, want) {
		t.Errorf("gops = %v, want %v", got, want)
	}
}

func TestLeadingPartialGopDiscarded(t *testing.T) {
	c := NewCache(2)
	mustAudio(t, c, aacRaw, 1)
	mustVideo(t, c, interNalu, 2)
	mustVideo(t, c, keyNalu, 10)
	mustVideo(t, c, interNalu, 11)
	mustVideo(t, c, keyNalu, 20)

	gops, _ := c.GetGopsData()
	want := [][]uint32{{10, 11}}
	if got := gopTimestamps(gops); !reflect.DeepEqual(got, want) {
		t.Errorf("gops = %v, want %v", got, want)
	}
	if s := c.Stats(); s.Discarded != 2 {
		t.Errorf("discarded = %d, want 2", s.Discarded)
	}
}

func TestSequenceHeadersStayInGopHistory(t *testing.T) {
	c := DefaultCache()
	mustVideo(t, c, videoSeqHdr, 0)
	mustAudio(t, c, aacSeqHdr, 0)
	mustVideo(t, c, keyNalu, 0)
	mustVideo(t, c, interNalu, 40)
	mustVideo(t, c, videoSeqHdr, 80)

	gops, _ := c.GetGopsData()
	if len(gops) != 1 || gops[0].Len() != 2 {
		t.Fatalf("gops = %v", gopTimestamps(gops))
	}
	if ps := gops[0].Packets(); !reflect.DeepEqual(ps[0].Data, keyNalu) {
		t.Errorf("first packet = %v, want key nalu", ps[0].Data)
	}
	if p, _ := c.GetVideoSeq(); p.TimeStamp != 80 {
		t.Errorf("video seq at %d, want 80", p.TimeStamp)
	}
}

func TestVideoGopFullDropsFrames(t *testing.T) {
	c := NewCache(1, WithGopCacheConf(WithMaxGopFrames(3)))
	mustVideo(t, c, keyNalu, 0)
	for ts := uint32(1); ts < 6; ts++ {
		mustVideo(t, c, interNalu, ts)
	}
	mustVideo(t, c, keyNalu, 10)

	gops, _ := c.GetGopsData()
	want := [][]uint32{{0, 1, 2}}
	if got := gopTimestamps(gops); !reflect.DeepEqual(got, want) {
		t.Errorf("gops = %v, want %v", got, want)
	}
	if s := c.Stats(); s.Dropped != 3 {
		t.Errorf("dropped = %d, want 3", s.Dropped)
	}
}

func TestSnapshotSendOrder(t *testing.T) {
	c := NewCache(2)
	mustVideo(t, c, videoSeqHdr, 1)
	mustAudio(t, c, aacSeqHdr, 2)
	c.SaveMetadata([]byte("meta"), 3)
	mustVideo(t, c, keyNalu, 10)
	mustAudio(t, c, aacRaw, 11)
	mustVideo(t, c, keyNalu, 20)

	r := new(recorder)
	if err := c.Send(r); err != nil {
		t.Fatal(err)
	}
	var got []uint32
	for _, p := range r.packets {
		got = append(got, p.TimeStamp)
	}
	// metadata, audio seq, video seq, gop [vseq aseq], gop [key aac]
	want := []uint32{3, 2, 1, 1, 2, 10, 11}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("replay = %v, want %v", got, want)
	}
	if !r.packets[0].IsMetadata || !r.packets[1].IsAudio || !r.packets[2].IsVideo {
		t.Errorf("replay does not start with metadata, audio seq, video seq")
	}

	r = &recorder{failAt: 4}
	if err := c.Send(r); !errors.Is(err, av.ErrClosed) {
		t.Errorf("err = %v, want av.ErrClosed", err)
	}
}

func TestSnapshotJoin(t *testing.T) {
	c := NewCache(1)
	c.SaveMetadata([]byte("meta"), 1)
	mustVideo(t, c, videoSeqHdr, 2)

	// joining at the sequence header itself must not repeat it
	r := new(recorder)
	if err := c.Snapshot().Join(r, av.NewVideoPacket(videoSeqHdr, 2)); err != nil {
		t.Fatal(err)
	}
	if len(r.packets) != 2 || !r.packets[0].IsMetadata || !r.packets[1].IsVideo {
		t.Fatalf("join at sequence header sent %d packets", len(r.packets))
	}

	mustVideo(t, c, keyNalu, 10)
	r = new(recorder)
	if err := c.Snapshot().Join(r, av.NewVideoPacket(keyNalu, 10)); err != nil {
		t.Fatal(err)
	}
	var got []uint32
	for _, p := range r.packets {
		got = append(got, p.TimeStamp)
	}
	if want := []uint32{1, 2, 2, 10}; !reflect.DeepEqual(got, want) {
		t.Errorf("join = %v, want %v", got, want)
	}
}

func TestReadsCannotMutateCache(t *testing.T) {
	c := NewCache(1)
	c.SaveMetadata([]byte("meta"), 1)
	mustVideo(t, c, keyNalu, 10)
	mustVideo(t, c, interNalu, 11)
	mustVideo(t, c, keyNalu, 20)

	p, _ := c.GetMetadata()
	p.TimeStamp = 100
	gops, _ := c.GetGopsData()
	ps := gops[0].Packets()
	ps[0].TimeStamp = 100
	gops[0] = nil

	if p, _ := c.GetMetadata(); p.TimeStamp != 1 {
		t.Errorf("metadata timestamp = %d, want 1", p.TimeStamp)
	}
	gops, _ = c.GetGopsData()
	if gops[0] == nil || gops[0].Timestamp() != 10 {
		t.Errorf("gops were mutated through a snapshot")
	}
}

func TestWriteRoutesByType(t *testing.T) {
	c := DefaultCache()
	if err := c.Write(av.NewMetadataPacket([]byte("meta"), 1)); err != nil {
		t.Fatal(err)
	}
	if err := c.Write(av.NewAudioPacket(aacSeqHdr, 2)); err != nil {
		t.Fatal(err)
	}
	if err := c.Write(av.NewVideoPacket(videoSeqHdr, 3)); err != nil {
		t.Fatal(err)
	}
	if err := c.Write(av.NewVideoPacket([]byte{}, 4)); !errors.Is(err, ErrParse) {
		t.Errorf("err = %v, want ErrParse", err)
	}
	if err := c.Write(&av.Packet{}); !errors.Is(err, ErrUnknownPacket) {
		t.Errorf("err = %v, want ErrUnknownPacket", err)
	}

	s := c.Snapshot()
	if s.Metadata == nil || s.AudioSeq == nil || s.VideoSeq == nil || !s.Setted {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestConcurrentReaders(t *testing.T) {
	c := NewCache(3)
	var wg sync.WaitGroup
	done := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				s := c.Snapshot()
				if len(s.Gops) > 3 {
					t.Errorf("snapshot holds %d gops", len(s.Gops))
					return
				}
				for _, g := range s.Gops {
					if !g.StartsWithKeyFrame() {
						t.Errorf("gop at %d does not start with a key frame", g.Timestamp())
						return
					}
				}
			}
		}()
	}

	for ts := uint32(0); ts < 2000; ts++ {
		data := interNalu
		if ts%25 == 0 {
			data = keyNalu
		}
		if err := c.SaveVideoSeq(data, ts); err != nil {
			t.Error(err)
			break
		}
	}
	close(done)
	wg.Wait()
}
