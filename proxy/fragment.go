package proxy

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/bleproxy"
	"github.com/rigado/bleproxy/hci"
)

type fragMode int

const (
	fragIdle fragMode = iota
	// the start fragment was too short for the L2CAP header; collecting it
	fragHeader
	// recombining a PDU addressed to a proxy channel
	fragAccumulating
	// passing through a PDU the proxy doesn't own, counting bytes to find its end
	fragForwarding
)

type fragKey struct {
	handle uint16
	dir    hci.Direction
}

type fragState struct {
	mode     fragMode
	expected int
	received int
	buf      []byte
	ch       *channel
	// fragments are held back from the other side while the header is collected
	hold bool
}

// fragAction tells the caller what to do with an ACL packet.
type fragAction int

const (
	// forward the packet unchanged
	fragPass fragAction = iota
	// the packet was buffered by the tracker; drop it
	fragHeld
	// a complete PDU is available: the packet's own payload or a recombined one
	fragComplete
)

// fragResult is the outcome of one ACL packet. flush, if set, holds bytes
// the tracker kept back earlier which now go on, as one start fragment,
// ahead of anything else on the link.
type fragResult struct {
	action fragAction
	pdu    hci.Pdu
	ch     *channel
	flush  []byte
}

// fragmenter follows L2CAP PDUs spread over several ACL packets, per
// connection and direction. PDUs for proxy channels are recombined; all
// others are only followed so that their continuations are recognized.
type fragmenter struct {
	mu     sync.Mutex
	logger bleproxy.Logger
	states map[fragKey]*fragState

	// owner returns the proxy channel a fragmented PDU starting on
	// (handle, dir) with the given CID belongs to, or nil.
	owner func(handle uint16, dir hci.Direction, cid uint16) *channel

	violations func(err error)
}

func newFragmenter(logger bleproxy.Logger, owner func(uint16, hci.Direction, uint16) *channel, violations func(error)) *fragmenter {
	return &fragmenter{
		logger:     logger,
		states:     make(map[fragKey]*fragState),
		owner:      owner,
		violations: violations,
	}
}

// Process looks at one ACL packet. With fragComplete the returned PDU is
// either a view into acl or the recombined PDU; ch is set if the PDU was
// recombined for that channel.
func (f *fragmenter) Process(dir hci.Direction, acl hci.ACL) fragResult {
	f.mu.Lock()
	res, failed := f.process(dir, acl)
	f.mu.Unlock()

	if failed != nil {
		failed.handleFragmentFailure()
	}
	return res
}

// process returns, besides the result, a channel whose recombination was abandoned.
func (f *fragmenter) process(dir hci.Direction, acl hci.ACL) (fragResult, *channel) {
	key := fragKey{handle: acl.Handle(), dir: dir}
	st := f.states[key]
	data := acl.Data()

	if acl.IsContinuation() {
		switch {
		case st == nil || st.mode == fragIdle:
			f.violation(key, "continuation without a start fragment")
			return fragResult{action: fragPass}, nil
		case st.mode == fragHeader:
			return f.headerContinuation(key, st, data), nil
		}
		return f.continuation(key, st, data)
	}

	if st != nil && st.mode != fragIdle {
		f.violation(key, fmt.Sprintf("start fragment while %d of %d bytes outstanding", st.received, st.expected))
		res := fragResult{action: fragPass, flush: held(st)}
		return res, f.abandon(key, st)
	}

	pdu := hci.Pdu(data)
	if !pdu.HasHeader() {
		st = &fragState{mode: fragHeader, hold: dir == hci.FromController}
		st.buf = append(st.buf, data...)
		st.received = len(data)
		f.states[key] = st
		if st.hold {
			return fragResult{action: fragHeld}, nil
		}
		return fragResult{action: fragPass}, nil
	}
	total := hci.L2CAPHeaderLen + pdu.Len()
	switch {
	case len(data) == total:
		return fragResult{action: fragComplete, pdu: pdu}, nil
	case len(data) > total:
		f.logger.Debugf("%v 0x%04x: acl carries %d bytes for a %d byte pdu", dir, key.handle, len(data), total)
		return fragResult{action: fragPass}, nil
	}

	st = &fragState{expected: total, received: len(data)}
	f.states[key] = st
	if ch := f.owner(key.handle, dir, pdu.CID()); ch != nil {
		st.mode = fragAccumulating
		st.ch = ch
		st.buf = make([]byte, 0, total)
		st.buf = append(st.buf, data...)
		ch.handleFragmentStart(total)
		return fragResult{action: fragHeld}, nil
	}
	st.mode = fragForwarding
	return fragResult{action: fragPass}, nil
}

// headerContinuation adds to a start fragment that was too short for the
// L2CAP header. Once the header is in, the PDU is either claimed by a proxy
// channel or, if the bytes so far were held back, handed on in one piece.
func (f *fragmenter) headerContinuation(key fragKey, st *fragState, data []byte) fragResult {
	st.buf = append(st.buf, data...)
	st.received = len(st.buf)
	pending := fragResult{action: fragPass}
	if st.hold {
		pending.action = fragHeld
	}

	pdu := hci.Pdu(st.buf)
	if !pdu.HasHeader() {
		return pending
	}
	total := hci.L2CAPHeaderLen + pdu.Len()
	st.expected = total
	if st.received > total {
		f.violation(key, fmt.Sprintf("continuation overruns pdu: %d > %d", st.received, total))
		delete(f.states, key)
		pending.flush = held(st)
		return pending
	}

	if st.hold {
		if ch := f.owner(key.handle, key.dir, pdu.CID()); ch != nil {
			if st.received == total {
				delete(f.states, key)
				return fragResult{action: fragComplete, pdu: pdu, ch: ch}
			}
			st.mode = fragAccumulating
			st.ch = ch
			ch.handleFragmentStart(total)
			return pending
		}
		pending.flush = st.buf
	}

	if st.received == total {
		delete(f.states, key)
		if !st.hold {
			return fragResult{action: fragComplete, pdu: pdu}
		}
		return pending
	}
	st.mode = fragForwarding
	st.buf = nil
	return pending
}

// held returns the bytes kept back from the other side, if any.
func held(st *fragState) []byte {
	if st.mode == fragHeader && st.hold {
		return st.buf
	}
	return nil
}

func (f *fragmenter) continuation(key fragKey, st *fragState, data []byte) (fragResult, *channel) {
	if st.received+len(data) > st.expected {
		f.violation(key, fmt.Sprintf("continuation overruns pdu: %d + %d > %d", st.received, len(data), st.expected))
		return fragResult{action: fragPass}, f.abandon(key, st)
	}

	st.received += len(data)
	if st.mode == fragForwarding {
		if st.received == st.expected {
			delete(f.states, key)
		}
		return fragResult{action: fragPass}, nil
	}

	st.buf = append(st.buf, data...)
	if st.received < st.expected {
		return fragResult{action: fragHeld}, nil
	}
	delete(f.states, key)
	return fragResult{action: fragComplete, pdu: hci.Pdu(st.buf), ch: st.ch}, nil
}

// abandon drops the state of key and returns the channel whose PDU was
// being recombined, if any.
func (f *fragmenter) abandon(key fragKey, st *fragState) *channel {
	delete(f.states, key)
	if st.mode == fragAccumulating {
		return st.ch
	}
	return nil
}

func (f *fragmenter) violation(key fragKey, msg string) {
	err := errors.Errorf("%v handle 0x%04x: %s", key.dir, key.handle, msg)
	f.logger.Warn(err)
	if f.violations != nil {
		f.violations(err)
	}
}

// ResetHandle forgets any partial PDU on handle, in both directions.
func (f *fragmenter) ResetHandle(handle uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.states, fragKey{handle: handle, dir: hci.FromController})
	delete(f.states, fragKey{handle: handle, dir: hci.FromHost})
}

func (f *fragmenter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = make(map[fragKey]*fragState)
}

// Active reports whether a PDU is partially received on (handle, dir).
func (f *fragmenter) Active(handle uint16, dir hci.Direction) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[fragKey{handle: handle, dir: dir}]
	return ok && st.mode != fragIdle
}
