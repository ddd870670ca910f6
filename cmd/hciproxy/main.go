package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rigado/bleproxy"
	"github.com/rigado/bleproxy/hci/h4"
	"github.com/rigado/bleproxy/linux/socket"
	"github.com/rigado/bleproxy/metrics"
	"github.com/urfave/cli"
)

const (
	dialTimeout = 5 * time.Second
	openWait    = 5 * time.Second
)

func main() {
	app := cli.NewApp()
	app.Name = "hciproxy"
	app.Usage = "run a bluetooth hci proxy between a host stack and a controller"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "JSON config file; flags override it",
		},
		cli.StringFlag{
			Name:  "listen, l",
			Usage: "TCP address the host stack connects to",
		},
		cli.StringFlag{
			Name:  "controller",
			Usage: "controller transport: uart:<port>, tcp:<host:port> or hci:<index>",
		},
		cli.UintFlag{
			Name:  "baud",
			Usage: "UART baud rate",
		},
		cli.UintFlag{
			Name:  "le-credits",
			Usage: "LE ACL buffers to keep back from the host",
		},
		cli.UintFlag{
			Name:  "bredr-credits",
			Usage: "BR/EDR ACL buffers to keep back from the host",
		},
		cli.StringFlag{
			Name:  "metrics",
			Usage: "address to serve prometheus metrics on",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "logrus level",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		bleproxy.GetLogger().Error(err)
		os.Exit(1)
	}
}

func configFromContext(c *cli.Context) (config, error) {
	cfg := defaultConfig()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = loadConfig(cfg, path); err != nil {
			return cfg, err
		}
	}

	if c.IsSet("listen") {
		cfg.Listen = c.String("listen")
	}
	if c.IsSet("controller") {
		cfg.Controller = c.String("controller")
	}
	if c.IsSet("baud") {
		cfg.Baud = c.Uint("baud")
	}
	if c.IsSet("le-credits") {
		cfg.LeCredits = uint16(c.Uint("le-credits"))
	}
	if c.IsSet("bredr-credits") {
		cfg.BrEdrCredits = uint16(c.Uint("bredr-credits"))
	}
	if c.IsSet("metrics") {
		cfg.Metrics = c.String("metrics")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	return cfg, nil
}

func openController(cfg config, logger bleproxy.Logger) (io.ReadWriteCloser, error) {
	kind, addr, err := controllerAddr(cfg.Controller)
	if err != nil {
		return nil, err
	}

	switch kind {
	case kindUART:
		return h4.NewSerial(h4.SerialOptions(addr, cfg.Baud), logger)
	case kindTCP:
		return h4.DialTCP(addr, dialTimeout, logger)
	default:
		id, _ := strconv.Atoi(addr)
		return socket.Open(id, openWait, logger)
	}
}

func serveMetrics(ctx context.Context, addr string, c prometheus.Collector, logger bleproxy.Logger) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return errors.Wrap(err, "can't register collector")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("metrics: %v", err)
		}
	}()
	return nil
}

func run(c *cli.Context) error {
	cfg, err := configFromContext(c)
	if err != nil {
		return err
	}
	if err := bleproxy.SetLogLevel(cfg.LogLevel); err != nil {
		return errors.Wrap(err, "can't set log level")
	}
	logger := bleproxy.GetLogger().ChildLogger(map[string]interface{}{"controller": cfg.Controller})

	ctrl, err := openController(cfg, logger)
	if err != nil {
		return errors.Wrap(err, "can't open controller")
	}

	b, err := newBridge(ctrl, logger, cfg.options()...)
	if err != nil {
		ctrl.Close()
		return err
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		ctrl.Close()
		return errors.Wrap(err, "can't listen")
	}
	logger.Infof("waiting for host on %v", ln.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics != "" {
		if err := serveMetrics(ctx, cfg.Metrics, metrics.NewCollector(b.p), logger); err != nil {
			return err
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sig:
			logger.Infof("got %v, stopping", s)
			cancel()
		case <-ctx.Done():
		}
	}()

	return b.run(ctx, ln)
}
