package main

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/bleproxy"
	"github.com/rigado/bleproxy/hci"
	"github.com/rigado/bleproxy/hci/h4"
	"github.com/rigado/bleproxy/proxy"
	"golang.org/x/sync/errgroup"
)

// Large enough for any H4 packet.
const maxPacketLen = hci.H4HeaderLen + hci.ACLHeaderLen + 0xFFFF

const (
	hostReadTimeout  = 100 * time.Millisecond
	hostWriteTimeout = time.Second
)

// bridge moves packets between one controller and, one at a time, the host
// connections accepted on a listener, with the proxy in the middle.
type bridge struct {
	controller io.ReadWriteCloser
	logger     bleproxy.Logger
	p          *proxy.Proxy

	mu   sync.Mutex
	host io.ReadWriteCloser
}

func newBridge(controller io.ReadWriteCloser, logger bleproxy.Logger, opts ...bleproxy.Option) (*bridge, error) {
	b := &bridge{controller: controller, logger: logger}

	opts = append(opts, bleproxy.OptLogger(logger), bleproxy.OptErrorHandler(func(err error) {
		b.logger.Debugf("proxy: %v", err)
	}))
	p, err := proxy.New(b.toHost, b.toController, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "can't create proxy")
	}
	b.p = p
	return b, nil
}

func (b *bridge) toHost(pkt *hci.Packet) {
	defer pkt.Release()

	b.mu.Lock()
	host := b.host
	b.mu.Unlock()
	if host == nil {
		return
	}
	if _, err := host.Write(pkt.H4()); err != nil {
		b.logger.Warnf("write to host: %v", err)
	}
}

func (b *bridge) toController(pkt *hci.Packet) {
	defer pkt.Release()
	if _, err := b.controller.Write(pkt.H4()); err != nil {
		b.logger.Errorf("write to controller: %v", err)
	}
}

// pump reads whole H4 packets from r and hands each to fn in its own buffer.
// Reads returning nothing are poll timeouts.
func pump(ctx context.Context, r io.Reader, fn func(*hci.Packet)) error {
	buf := make([]byte, maxPacketLen)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		b := make([]byte, n)
		copy(b, buf)
		fn(hci.NewPacket(b))
	}
}

// serveHost runs one host connection until it closes.
func (b *bridge) serveHost(ctx context.Context, c net.Conn) error {
	host := h4.NewConn(c, hostReadTimeout, hostWriteTimeout, b.logger)
	b.mu.Lock()
	if b.host != nil {
		b.mu.Unlock()
		host.Close()
		return errors.New("a host is already connected")
	}
	b.host = host
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.host = nil
		b.mu.Unlock()
		host.Close()
	}()

	b.logger.Infof("host connected from %v", c.RemoteAddr())
	err := pump(ctx, host, b.p.HandleFromHost)
	if errors.Cause(err) == io.EOF {
		err = nil
	}
	b.logger.Infof("host %v gone", c.RemoteAddr())
	return err
}

// run serves until ctx is done or the controller fails.
func (b *bridge) run(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		ln.Close()
		b.controller.Close()
		b.mu.Lock()
		if b.host != nil {
			b.host.Close()
		}
		b.mu.Unlock()
		b.p.Close()
		return nil
	})

	g.Go(func() error {
		err := pump(gctx, b.controller, b.p.HandleFromController)
		return errors.Wrap(err, "controller")
	})

	g.Go(func() error {
		for {
			c, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return errors.Wrap(err, "accept")
			}
			go func() {
				if err := b.serveHost(gctx, c); err != nil && gctx.Err() == nil {
					b.logger.Warnf("host: %v", err)
				}
			}()
		}
	})

	err := g.Wait()
	if ctx.Err() != nil {
		// stopped from outside
		return nil
	}
	return err
}
