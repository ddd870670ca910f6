package h4

import (
	"time"

	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
	"github.com/rigado/bleproxy"
)

// resetCommand is an HCI Reset used to flush whatever the controller had
// queued before the port was opened.
var resetCommand = []byte{0x01, 0x03, 0x0c, 0x00}

// SerialOptions returns the port settings of a typical H4 UART controller.
func SerialOptions(port string, baud uint) serial.OpenOptions {
	return serial.OpenOptions{
		PortName:              port,
		BaudRate:              baud,
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		RTSCTSFlowControl:     true,
		MinimumReadSize:       0,
		InterCharacterTimeout: 100,
	}
}

// NewSerial opens a UART controller and flushes it.
func NewSerial(opts serial.OpenOptions, logger bleproxy.Logger) (*H4, error) {
	if logger == nil {
		logger = bleproxy.GetLogger()
	}
	logger = logger.ChildLogger(map[string]interface{}{"port": opts.PortName})

	// force these
	opts.MinimumReadSize = 0
	opts.InterCharacterTimeout = 100

	logger.Info("opening...")
	sp, err := serial.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open %v", opts.PortName)
	}

	// dump data
	logger.Debug("flushing...")
	b := make([]byte, 2048)
	if _, err := sp.Write(resetCommand); err != nil {
		sp.Close()
		return nil, errors.Wrap(err, "can't write reset")
	}
	<-time.After(time.Millisecond * 250)
	sp.Read(b)

	logger.Infof("opened at %v baud", opts.BaudRate)

	return newH4(sp, false, logger), nil
}
