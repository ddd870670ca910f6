package main

import (
	"io/ioutil"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rigado/bleproxy"
	"github.com/rigado/bleproxy/proxy"
)

type config struct {
	// Listen is the TCP address the host stack connects to.
	Listen string `json:"listen"`
	// Controller is "uart:<port>", "tcp:<host:port>" or "hci:<index>".
	Controller string `json:"controller"`
	Baud       uint   `json:"baud"`

	LeCredits    uint16 `json:"leCredits"`
	BrEdrCredits uint16 `json:"brEdrCredits"`
	TxBuffers    int    `json:"txBuffers"`
	TxBufferSize int    `json:"txBufferSize"`
	MaxChannels  int    `json:"maxChannels"`

	// Metrics is the address of the prometheus endpoint, empty to disable.
	Metrics  string `json:"metrics"`
	LogLevel string `json:"logLevel"`
}

func defaultConfig() config {
	return config{
		Listen:       "127.0.0.1:9000",
		Controller:   "hci:0",
		Baud:         1000000,
		LeCredits:    2,
		TxBuffers:    proxy.DefaultTxBufferCount,
		TxBufferSize: proxy.DefaultTxBufferSize,
		MaxChannels:  proxy.DefaultMaxChannels,
		LogLevel:     "info",
	}
}

// loadConfig overlays the JSON file at path on c.
func loadConfig(c config, path string) (config, error) {
	in, err := ioutil.ReadFile(path)
	if err != nil {
		return c, errors.Wrap(err, "can't read config")
	}
	if err := jsoniter.Unmarshal(in, &c); err != nil {
		return c, errors.Wrapf(err, "can't parse %v", path)
	}
	return c, nil
}

func (c config) options() []bleproxy.Option {
	return []bleproxy.Option{
		bleproxy.OptLeAclCreditsToReserve(c.LeCredits),
		bleproxy.OptBrEdrAclCreditsToReserve(c.BrEdrCredits),
		bleproxy.OptTxBufferPool(c.TxBuffers, c.TxBufferSize),
		bleproxy.OptMaxChannels(c.MaxChannels),
	}
}

const (
	kindUART = "uart"
	kindTCP  = "tcp"
	kindHCI  = "hci"
)

// controllerAddr splits the controller setting into kind and address.
func controllerAddr(s string) (kind, addr string, err error) {
	i := strings.Index(s, ":")
	if i < 0 {
		return "", "", errors.Errorf("controller %q: want kind:address", s)
	}
	kind, addr = s[:i], s[i+1:]
	switch kind {
	case kindUART, kindTCP:
		if addr == "" {
			return "", "", errors.Errorf("controller %q: missing address", s)
		}
	case kindHCI:
		if _, err := strconv.Atoi(addr); err != nil {
			return "", "", errors.Wrapf(err, "controller %q: bad hci index", s)
		}
	default:
		return "", "", errors.Errorf("controller %q: unknown kind %q", s, kind)
	}
	return kind, addr, nil
}
