package httpflv

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/zijiren233/livecache/av"
	"github.com/zijiren233/livecache/container/flv"
)

const (
	maxQueueNum = 1024
)

// HttpFlvWriter is a player that queues packets and encodes them as FLV on
// the goroutine running SendPacket. A full queue drops the oldest packets
// instead of blocking the publisher.
type HttpFlvWriter struct {
	w       *flv.Writer
	flusher http.Flusher
	queue   int

	packetQueue chan *av.Packet
	dropped     atomic.Uint64

	closed bool
	mu     sync.RWMutex
}

type HttpFlvWriterConf func(*HttpFlvWriter)

func WithQueueSize(size int) HttpFlvWriterConf {
	return func(w *HttpFlvWriter) {
		if size > 0 {
			w.queue = size
		}
	}
}

func NewHttpFLVWriter(w io.Writer, conf ...HttpFlvWriterConf) *HttpFlvWriter {
	writer := &HttpFlvWriter{
		w:     flv.NewWriter(w),
		queue: maxQueueNum,
	}

	for _, hfwc := range conf {
		hfwc(writer)
	}

	writer.packetQueue = make(chan *av.Packet, writer.queue)
	if f, ok := w.(http.Flusher); ok {
		writer.flusher = f
	}

	return writer
}

func (w *HttpFlvWriter) Write(p *av.Packet) (err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return av.ErrClosed
	}

	for {
		select {
		case w.packetQueue <- p:
			return
		default:
			w.dropped.Add(uint64(av.DropPacket(w.packetQueue)))
		}
	}
}

// Dropped returns how many packets were discarded because the queue was
// full.
func (w *HttpFlvWriter) Dropped() uint64 {
	return w.dropped.Load()
}

func (w *HttpFlvWriter) SendPacket(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-w.packetQueue:
			if !ok {
				return nil
			}
			if err := w.w.Write(p); err != nil {
				return err
			}
			if w.flusher != nil && len(w.packetQueue) == 0 {
				w.flusher.Flush()
			}
		}
	}
}

func (w *HttpFlvWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return av.ErrClosed
	}
	w.closed = true
	close(w.packetQueue)
	return nil
}
