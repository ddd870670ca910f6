package h4

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/bleproxy"
)

const (
	rxQueueSize = 64
	rxChunkSize = 512
)

// H4 frames an unframed H4 byte stream (UART, TCP) into packets. Each Read
// returns exactly one H4 packet; each Write sends one.
type H4 struct {
	rwc    io.ReadWriteCloser
	logger bleproxy.Logger

	// stopOnError ends the rx loop on a non-timeout read error. Serial ports
	// report an idle line as an error, so they keep reading.
	stopOnError bool

	rmu sync.Mutex
	wmu sync.Mutex

	rxQueue chan []byte

	done chan struct{}
	cmu  sync.Mutex
}

func newH4(rwc io.ReadWriteCloser, stopOnError bool, logger bleproxy.Logger) *H4 {
	if logger == nil {
		logger = bleproxy.GetLogger()
	}
	h := &H4{
		rwc:         rwc,
		logger:      logger,
		stopOnError: stopOnError,
		rxQueue:     make(chan []byte, rxQueueSize),
		done:        make(chan struct{}),
	}

	go h.rxLoop()

	return h
}

// Wrap frames an already open stream. Read errors other than timeouts close it.
func Wrap(rwc io.ReadWriteCloser, logger bleproxy.Logger) *H4 {
	return newH4(rwc, true, logger)
}

// Read blocks until a whole packet is available and copies it into p.
func (h *H4) Read(p []byte) (int, error) {
	if !h.isOpen() {
		return 0, io.EOF
	}

	h.rmu.Lock()
	defer h.rmu.Unlock()

	select {
	case t := <-h.rxQueue:
		if len(p) < len(t) {
			return 0, errors.Errorf("buffer too small: packet %d bytes, buffer %d", len(t), len(p))
		}
		return copy(p, t), nil

	case <-h.done:
		return 0, io.EOF
	}
}

func (h *H4) Write(p []byte) (int, error) {
	if !h.isOpen() {
		return 0, io.EOF
	}

	h.wmu.Lock()
	defer h.wmu.Unlock()
	n, err := h.rwc.Write(p)
	h.logger.Debugf("write [% 0x], %v, %v", p, n, err)

	return n, errors.Wrap(err, "can't write h4")
}

func (h *H4) Close() error {
	h.cmu.Lock()
	defer h.cmu.Unlock()

	select {
	case <-h.done:
		return nil

	default:
		close(h.done)
		h.logger.Debug("closing h4")
		return errors.Wrap(h.rwc.Close(), "can't close h4")
	}
}

func (h *H4) isOpen() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *H4) rxLoop() {
	fr := newFrame(func(b []byte) {
		select {
		case h.rxQueue <- b:
		case <-h.done:
		}
	})

	tmp := make([]byte, rxChunkSize)
	for h.isOpen() {
		n, err := h.rwc.Read(tmp)
		if n > 0 {
			fr.Assemble(tmp[:n])
		}

		switch {
		case err == nil, isTimeout(err):
			continue
		case !h.isOpen():
			return
		case h.stopOnError:
			h.logger.Warnf("h4 rx stopped: %v", err)
			h.Close()
			return
		}
	}
}
