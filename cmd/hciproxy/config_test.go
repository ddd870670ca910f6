package main

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestControllerAddr(t *testing.T) {
	for _, tc := range []struct {
		in   string
		kind string
		addr string
		ok   bool
	}{
		{"uart:/dev/ttyUSB0", kindUART, "/dev/ttyUSB0", true},
		{"tcp:localhost:9001", kindTCP, "localhost:9001", true},
		{"hci:1", kindHCI, "1", true},
		{"hci:x", "", "", false},
		{"uart:", "", "", false},
		{"usb:1", "", "", false},
		{"/dev/ttyUSB0", "", "", false},
	} {
		kind, addr, err := controllerAddr(tc.in)
		if !tc.ok {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.kind, kind)
		require.Equal(t, tc.addr, addr)
	}
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	dir, err := ioutil.TempDir("", "hciproxy")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "config.json")
	require.NoError(t, ioutil.WriteFile(path, []byte(`{"controller": "uart:/dev/ttyACM0", "leCredits": 4, "metrics": ":9100"}`), 0600))

	cfg, err := loadConfig(defaultConfig(), path)
	require.NoError(t, err)
	require.Equal(t, "uart:/dev/ttyACM0", cfg.Controller)
	require.Equal(t, uint16(4), cfg.LeCredits)
	require.Equal(t, ":9100", cfg.Metrics)
	require.Equal(t, defaultConfig().Listen, cfg.Listen)
	require.Len(t, cfg.options(), 4)

	require.NoError(t, ioutil.WriteFile(path, []byte(`{"leCredits": "many"}`), 0600))
	_, err = loadConfig(defaultConfig(), path)
	require.Error(t, err)

	_, err = loadConfig(defaultConfig(), filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}
