package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"vsockmux/pkg/config"
	"vsockmux/pkg/driver/loopback"
	"vsockmux/pkg/driver/stream"
	"vsockmux/pkg/executor"
	"vsockmux/pkg/repl"
	"vsockmux/pkg/vsockstack"
)

const name = "vsockd"

var vsockdLog = logrus.WithField("source", name)

func initLog(cfg *config.Config) {
	logger := logrus.WithFields(logrus.Fields{
		"name": name,
		"pid":  os.Getpid(),
	})
	logger.Logger.SetLevel(cfg.LogLevel)
	if cfg.LogFormat == "json" {
		logger.Logger.Formatter = &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano}
	} else {
		logger.Logger.Formatter = &logrus.TextFormatter{TimestampFormat: time.RFC3339Nano}
	}

	vsockdLog = logger.WithField("source", name)
	vsockstack.SetLogger(logger.WithField("source", "vsockmux"))
	executor.SetLogger(logger.WithField("source", "vsockmux"))
	stream.SetLogger(logger.WithField("source", "vsockmux"))
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.GlobalString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if level := c.GlobalString("log-level"); level != "" {
		l, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, errors.Wrap(err, "invalid --log-level")
		}
		cfg.LogLevel = l
	}
	return cfg, nil
}

func serveMetrics(listen string) {
	reg := prometheus.NewRegistry()
	vsockstack.RegisterMetrics(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	vsockdLog.WithField("listen", listen).Info("serving prometheus metrics")
	go func() {
		if err := http.ListenAndServe(listen, mux); err != nil {
			vsockdLog.WithError(err).Error("metrics server stopped")
		}
	}()
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	initLog(cfg)

	stack := vsockstack.New(cfg.BufferSize)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var lb *loopback.Driver
	switch cfg.Transport {
	case config.TransportStream:
		drv, err := stream.Dial(cfg.Address, cfg.DialTimeout)
		if err != nil {
			return err
		}
		defer drv.Close()
		stack.Attach(drv)

		// the pump stops once the transport is gone
		go func() {
			select {
			case <-drv.Done():
				stack.Detach()
			case <-ctx.Done():
			}
		}()
	default:
		lb = loopback.New()
		stack.Attach(lb)
	}

	if cfg.MetricsListen != "" {
		serveMetrics(cfg.MetricsListen)
	}

	exec := executor.New(ctx)
	stack.Init(exec)

	for _, port := range cfg.Ports {
		if err := stack.Bind(port); err != nil {
			return err
		}
		vsockdLog.WithField("port", port).Info("vsock port bound")
	}

	if c.GlobalBool("repl") {
		repl.New(stack, lb, cfg.GuestCID).Run(os.Stdin, os.Stdout)
		cancel()
	}

	exec.Wait()
	stack.Registry.Clear()
	vsockdLog.Info("vsock packet pump stopped")
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = name
	app.Usage = "virtio-vsock transport multiplexer"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config,c",
			Usage: "path to the TOML configuration file",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "Logging level (trace/debug/info/warn/error/fatal/panic), overrides the config file.",
		},
		cli.BoolFlag{
			Name:  "repl",
			Usage: "read debug commands from stdin",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
