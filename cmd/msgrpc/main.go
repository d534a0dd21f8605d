package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"msgrpc/client"
	"msgrpc/config"
	"msgrpc/loadbalance"
	"msgrpc/logging"
)

type options struct {
	config  string
	servers string
	timeout time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.config, "config", "", "path to a client TOML config")
	flag.StringVar(&opts.servers, "server", "", "comma-separated server addresses, overrides the registry")
	flag.DurationVar(&opts.timeout, "timeout", 10*time.Second, "how long to wait for the result")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: msgrpc [flags] <procedure> [json-argument]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 || flag.NArg() > 2 {
		flag.Usage()
		os.Exit(2)
	}
	arg := ""
	if flag.NArg() == 2 {
		arg = flag.Arg(1)
	}

	logging.ConfigureRuntime()
	if err := run(opts, flag.Arg(0), arg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "msgrpc: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(opts options) (config.ClientConfig, error) {
	cfg := config.DefaultClientConfig()
	if opts.config != "" {
		var err error
		if cfg, err = config.DecodeClient(opts.config); err != nil {
			return cfg, err
		}
	}
	if opts.servers != "" {
		cfg.Registry.Kind = config.RegistryStatic
		cfg.Registry.Servers = strings.Split(opts.servers, ",")
	}
	return cfg, cfg.Validate()
}

func run(opts options, procedure, rawArg string, out io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	var arg any
	if strings.TrimSpace(rawArg) != "" {
		if err := json.Unmarshal([]byte(rawArg), &arg); err != nil {
			return fmt.Errorf("argument is not JSON: %w", err)
		}
	}

	reg, closer, err := config.OpenRegistry(cfg.Registry)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	defer closer.Close()

	bal, err := loadbalance.ByName(cfg.Balancer)
	if err != nil {
		return err
	}
	logger := logging.New("msgrpc")
	c := client.New(reg, bal,
		client.WithCodec(cfg.Codec),
		client.WithTag(cfg.Tag),
		client.WithHeartbeat(cfg.Heartbeat),
		client.WithDialTimeout(cfg.DialTimeout),
		client.WithLogger(logger),
		client.WithMiddleware(cfg.Middleware.Middlewares(logger)...),
	)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	var result any
	if err := c.Call(ctx, procedure, arg, &result); err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
