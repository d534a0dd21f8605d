package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"msgrpc/config"
	"msgrpc/logging"
	"msgrpc/server"
)

func main() {
	path := flag.String("config", "", "path to a server TOML config (defaults apply when empty)")
	listen := flag.String("listen", "", "listen address, overrides the config")
	flag.Parse()

	if err := run(*path, *listen); err != nil {
		fmt.Fprintf(os.Stderr, "msgrpcd: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path, listen string) (config.ServerConfig, error) {
	cfg := config.DefaultServerConfig()
	if path != "" {
		var err error
		if cfg, err = config.DecodeServer(path); err != nil {
			return cfg, err
		}
	}
	if listen != "" {
		cfg.Listen = listen
	}
	return cfg, cfg.Validate()
}

func newServer(cfg config.ServerConfig) (*server.Server, error) {
	logger := logging.New("msgrpcd")
	svr := server.New(
		server.WithCodec(cfg.Codec),
		server.WithTag(cfg.Tag),
		server.WithHeartbeat(cfg.Heartbeat),
		server.WithTTL(cfg.TTL),
		server.WithInstance(cfg.Instance),
		server.WithLogger(logger),
	)
	for _, mw := range cfg.Middleware.Middlewares(logger) {
		svr.Use(mw)
	}
	if err := svr.Register(&Arith{}); err != nil {
		return nil, err
	}
	svr.HandleFunc("double", double)
	return svr, nil
}

func run(path, listen string) error {
	logging.ConfigureRuntime()
	logger := logging.New("msgrpcd")

	cfg, err := loadConfig(path, listen)
	if err != nil {
		return err
	}
	reg, closer, err := config.OpenRegistry(cfg.Registry)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer closer.Close()

	svr, err := newServer(cfg)
	if err != nil {
		return err
	}

	served := make(chan error, 1)
	go func() { served <- svr.Serve("tcp", cfg.Listen, cfg.Advertise, reg) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-served:
		return err
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}
	if err := svr.Shutdown(cfg.ShutdownTimeout); err != nil {
		return err
	}
	return <-served
}
