//go:build !linux
// +build !linux

package socket

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/bleproxy"
)

// Socket is only implemented on linux.
type Socket struct{}

// Open is a dummy function for non-Linux platform.
func Open(id int, wait time.Duration, logger bleproxy.Logger) (*Socket, error) {
	return nil, errors.New("hci user channel is only available on linux")
}

func (s *Socket) Read(p []byte) (int, error)  { return 0, errors.New("not supported") }
func (s *Socket) Write(p []byte) (int, error) { return 0, errors.New("not supported") }
func (s *Socket) Close() error                { return nil }
