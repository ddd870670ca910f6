package h4

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/bleproxy"
)

// deadlineConn arms a fresh deadline on every read and write, so a peer that
// stops draining can't wedge the proxy.
type deadlineConn struct {
	c            net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (dc *deadlineConn) Read(b []byte) (int, error) {
	if dc.readTimeout > 0 {
		dc.c.SetReadDeadline(time.Now().Add(dc.readTimeout))
	}
	return dc.c.Read(b)
}

func (dc *deadlineConn) Write(b []byte) (int, error) {
	if dc.writeTimeout > 0 {
		dc.c.SetWriteDeadline(time.Now().Add(dc.writeTimeout))
	}
	return dc.c.Write(b)
}

func (dc *deadlineConn) Close() error {
	return dc.c.Close()
}

func isTimeout(err error) bool {
	ne, ok := errors.Cause(err).(net.Error)
	return ok && ne.Timeout()
}

// NewConn frames an established stream connection. A read timeout only
// bounds each poll of the socket; the connection stays open across them.
func NewConn(c net.Conn, readTimeout, writeTimeout time.Duration, logger bleproxy.Logger) *H4 {
	dc := &deadlineConn{c: c, readTimeout: readTimeout, writeTimeout: writeTimeout}
	return newH4(dc, true, logger)
}

// DialTCP connects to a controller exposed over TCP, e.g. an emulator or a
// serial-to-network bridge.
func DialTCP(addr string, timeout time.Duration, logger bleproxy.Logger) (*H4, error) {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "can't dial %v", addr)
	}
	return NewConn(c, timeout, timeout, logger), nil
}
