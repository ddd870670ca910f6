package proxy

import (
	"encoding/binary"
	"sync"

	"github.com/rigado/bleproxy"
	"github.com/rigado/bleproxy/hci"
)

// ConnectionInfo describes an L2CAP channel the host set up with a peer.
type ConnectionInfo struct {
	Handle    uint16
	PSM       uint16
	LocalCID  uint16
	RemoteCID uint16
	Transport hci.AclTransport
}

// StatusDelegate is told about L2CAP channels opened and closed on PSMs it
// wants to track.
type StatusDelegate interface {
	ShouldTrackPsm(psm uint16) bool
	HandleConnectionComplete(info ConnectionInfo)
	HandleDisconnectionComplete(info ConnectionInfo)
}

type pendingKey struct {
	handle uint16
	dir    hci.Direction
	id     uint8
}

type pendingConn struct {
	psm       uint16
	sourceCID uint16
	code      uint8
}

type connKey struct {
	handle   uint16
	localCID uint16
}

// signaling watches the L2CAP signaling channels in both directions. It
// pairs connection requests with their responses to report channels to the
// status delegates, closes proxy channels on L2CAP disconnection, and takes
// the credit indications meant for proxy CoCs.
type signaling struct {
	mu        sync.Mutex
	logger    bleproxy.Logger
	delegates []StatusDelegate
	pending   map[pendingKey]pendingConn
	conns     map[connKey]ConnectionInfo

	findByLocalCID  func(handle, cid uint16) *channel
	findByRemoteCID func(handle, cid uint16) *channel
}

func newSignaling(logger bleproxy.Logger, r *registry) *signaling {
	return &signaling{
		logger:          logger,
		pending:         make(map[pendingKey]pendingConn),
		conns:           make(map[connKey]ConnectionInfo),
		findByLocalCID:  r.FindByLocalCID,
		findByRemoteCID: r.FindByRemoteCID,
	}
}

func (s *signaling) Register(d StatusDelegate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.delegates {
		if o == d {
			return
		}
	}
	s.delegates = append(s.delegates, d)
}

func (s *signaling) Unregister(d StatusDelegate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.delegates {
		if o == d {
			s.delegates = append(s.delegates[:i], s.delegates[i+1:]...)
			return
		}
	}
}

func opposite(d hci.Direction) hci.Direction {
	if d == hci.FromHost {
		return hci.FromController
	}
	return hci.FromHost
}

// HandlePdu looks at a complete C-frame. It returns true if the frame was
// consumed by the proxy.
func (s *signaling) HandlePdu(handle uint16, dir hci.Direction, pdu hci.Pdu) bool {
	t := hci.TransportBREDR
	if pdu.CID() == hci.CidLESignaling {
		t = hci.TransportLE
	}

	b := pdu.Payload()
	n := 0
	consumed := 0
	for len(b) > 0 {
		sig := hci.Signal(b)
		if !sig.Valid() {
			s.logger.Debugf("handle 0x%04x: malformed signaling command [% x]", handle, []byte(b))
			return false
		}
		if s.handleSignal(handle, dir, t, sig) {
			consumed++
		}
		n++
		b = b[hci.SignalHeaderLen+sig.Len():]
	}
	// Only a frame made up of nothing but consumed commands is dropped.
	return n > 0 && consumed == n
}

func (s *signaling) handleSignal(handle uint16, dir hci.Direction, t hci.AclTransport, sig hci.Signal) bool {
	d := sig.Data()
	switch sig.Code() {
	case hci.SigConnectionRequest, hci.SigLECreditConnRequest:
		// PSM, Source CID
		if len(d) < 4 {
			return false
		}
		s.mu.Lock()
		s.pending[pendingKey{handle, dir, sig.ID()}] = pendingConn{
			psm:       binary.LittleEndian.Uint16(d[0:2]),
			sourceCID: binary.LittleEndian.Uint16(d[2:4]),
			code:      sig.Code(),
		}
		s.mu.Unlock()

	case hci.SigConnectionResponse:
		// Destination CID, Source CID, Result, Status
		if len(d) < 6 {
			return false
		}
		s.response(handle, dir, t, sig.ID(), hci.SigConnectionRequest,
			binary.LittleEndian.Uint16(d[0:2]), binary.LittleEndian.Uint16(d[4:6]))

	case hci.SigLECreditConnResponse:
		// Destination CID, MTU, MPS, Initial Credits, Result
		if len(d) < 10 {
			return false
		}
		s.response(handle, dir, t, sig.ID(), hci.SigLECreditConnRequest,
			binary.LittleEndian.Uint16(d[0:2]), binary.LittleEndian.Uint16(d[8:10]))

	case hci.SigDisconnectionResponse:
		// Destination CID, Source CID
		if len(d) < 4 {
			return false
		}
		dcid := binary.LittleEndian.Uint16(d[0:2])
		scid := binary.LittleEndian.Uint16(d[2:4])
		// The response echoes the request, whose destination is the responder.
		local, remote := scid, dcid
		if dir == hci.FromHost {
			local, remote = dcid, scid
		}
		s.disconnected(handle, local, remote)

	case hci.SigFlowControlCreditInd:
		// CID, Credits
		if dir != hci.FromController || len(d) < 4 {
			return false
		}
		cid := binary.LittleEndian.Uint16(d[0:2])
		credits := binary.LittleEndian.Uint16(d[2:4])
		ch := s.findByRemoteCID(handle, cid)
		if ch == nil {
			return false
		}
		coc, ok := ch.kind.(*L2capCoc)
		if !ok {
			return false
		}
		coc.addTxCredits(credits)
		return true
	}
	return false
}

func (s *signaling) response(handle uint16, dir hci.Direction, t hci.AclTransport, id, reqCode uint8, dcid, result uint16) {
	key := pendingKey{handle, opposite(dir), id}

	s.mu.Lock()
	req, ok := s.pending[key]
	if !ok || req.code != reqCode {
		s.mu.Unlock()
		return
	}
	// 0x0001 is "pending" on BR/EDR; the final response follows.
	if reqCode == hci.SigConnectionRequest && result == 0x0001 {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	if result != 0 {
		s.mu.Unlock()
		return
	}

	info := ConnectionInfo{Handle: handle, PSM: req.psm, Transport: t}
	if dir == hci.FromController {
		// the host asked, the peer accepted
		info.LocalCID, info.RemoteCID = req.sourceCID, dcid
	} else {
		info.LocalCID, info.RemoteCID = dcid, req.sourceCID
	}

	ds := s.trackersLocked(info.PSM)
	if len(ds) > 0 {
		s.conns[connKey{handle, info.LocalCID}] = info
	}
	s.mu.Unlock()

	s.logger.Debugf("l2cap connection %+v", info)
	for _, d := range ds {
		d.HandleConnectionComplete(info)
	}
}

func (s *signaling) disconnected(handle, local, remote uint16) {
	if ch := s.findByLocalCID(handle, local); ch != nil && ch.remoteCID == remote {
		ch.closedByOther()
	}

	s.mu.Lock()
	info, ok := s.conns[connKey{handle, local}]
	delete(s.conns, connKey{handle, local})
	ds := s.trackersLocked(info.PSM)
	s.mu.Unlock()

	if !ok {
		return
	}
	for _, d := range ds {
		d.HandleDisconnectionComplete(info)
	}
}

// Disconnect reports every tracked channel on an ACL link that went away.
func (s *signaling) Disconnect(handle uint16) {
	s.mu.Lock()
	var infos []ConnectionInfo
	for k, info := range s.conns {
		if k.handle == handle {
			infos = append(infos, info)
			delete(s.conns, k)
		}
	}
	for k := range s.pending {
		if k.handle == handle {
			delete(s.pending, k)
		}
	}
	s.mu.Unlock()

	for _, info := range infos {
		s.mu.Lock()
		ds := s.trackersLocked(info.PSM)
		s.mu.Unlock()
		for _, d := range ds {
			d.HandleDisconnectionComplete(info)
		}
	}
}

func (s *signaling) trackersLocked(psm uint16) []StatusDelegate {
	var ds []StatusDelegate
	for _, d := range s.delegates {
		if d.ShouldTrackPsm(psm) {
			ds = append(ds, d)
		}
	}
	return ds
}

// Reset drops everything learned so far. Delegates stay registered.
func (s *signaling) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = make(map[pendingKey]pendingConn)
	s.conns = make(map[connKey]ConnectionInfo)
}
