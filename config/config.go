// Package config loads msgrpcd and msgrpc settings from TOML files.
//
// Every key is optional; a missing key keeps its default. Durations are Go
// duration strings ("250ms", "30s").
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"msgrpc/codec"
	"msgrpc/loadbalance"
	"msgrpc/message"
	"msgrpc/registry"
	"msgrpc/transport"
)

const (
	RegistryMemory = "memory"
	RegistryEtcd   = "etcd"
	RegistryStatic = "static"
)

var ErrInvalid = errors.New("config: invalid")

type RegistryConfig struct {
	Kind        string
	Endpoints   []string      // etcd endpoints
	Servers     []string      // static addresses, client only
	DialTimeout time.Duration // etcd dial timeout
}

type MiddlewareConfig struct {
	LogRequests bool
	Timeout     time.Duration // 0 disables
	RateLimit   float64       // Requests per second; 0 disables
	Burst       int
	Retries     int
	RetryDelay  time.Duration
}

type ServerConfig struct {
	Listen          string
	Advertise       string
	Codec           codec.CodecType
	Tag             string
	Heartbeat       time.Duration
	TTL             int64
	Instance        registry.Instance
	ShutdownTimeout time.Duration
	Registry        RegistryConfig
	Middleware      MiddlewareConfig
}

type ClientConfig struct {
	Codec       codec.CodecType
	Tag         string
	Heartbeat   time.Duration
	DialTimeout time.Duration
	Balancer    string
	Registry    RegistryConfig
	Middleware  MiddlewareConfig
}

func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{Kind: RegistryMemory, DialTimeout: 5 * time.Second}
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Listen:          ":7070",
		Codec:           codec.CodecTypeJSON,
		Tag:             message.DefaultTag,
		Heartbeat:       transport.DefaultHeartbeat,
		TTL:             10,
		Instance:        registry.Instance{Weight: 1},
		ShutdownTimeout: 10 * time.Second,
		Registry:        DefaultRegistryConfig(),
		Middleware:      MiddlewareConfig{LogRequests: true, Burst: 1, RetryDelay: 100 * time.Millisecond},
	}
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Codec:       codec.CodecTypeJSON,
		Tag:         message.DefaultTag,
		Heartbeat:   transport.DefaultHeartbeat,
		DialTimeout: 5 * time.Second,
		Balancer:    "round_robin",
		Registry:    RegistryConfig{Kind: RegistryStatic, DialTimeout: 5 * time.Second},
		Middleware:  MiddlewareConfig{Burst: 1, RetryDelay: 100 * time.Millisecond},
	}
}

type registryFile struct {
	Kind        string   `toml:"kind"`
	Endpoints   []string `toml:"endpoints"`
	Servers     []string `toml:"servers"`
	DialTimeout string   `toml:"dial_timeout"`
}

type middlewareFile struct {
	LogRequests bool    `toml:"log_requests"`
	Timeout     string  `toml:"timeout"`
	RateLimit   float64 `toml:"rate_limit"`
	Burst       int     `toml:"burst"`
	Retries     int     `toml:"retries"`
	RetryDelay  string  `toml:"retry_delay"`
}

type serverFile struct {
	Listen          string         `toml:"listen"`
	Advertise       string         `toml:"advertise"`
	Codec           string         `toml:"codec"`
	Tag             string         `toml:"tag"`
	Heartbeat       string         `toml:"heartbeat"`
	TTL             int64          `toml:"ttl"`
	Label           string         `toml:"label"`
	Weight          int            `toml:"weight"`
	Version         string         `toml:"version"`
	ShutdownTimeout string         `toml:"shutdown_timeout"`
	Registry        registryFile   `toml:"registry"`
	Middleware      middlewareFile `toml:"middleware"`
}

type clientFile struct {
	Codec       string         `toml:"codec"`
	Tag         string         `toml:"tag"`
	Heartbeat   string         `toml:"heartbeat"`
	DialTimeout string         `toml:"dial_timeout"`
	Balancer    string         `toml:"balancer"`
	Registry    registryFile   `toml:"registry"`
	Middleware  middlewareFile `toml:"middleware"`
}

// LoadServer reads a msgrpcd config file over DefaultServerConfig and validates it.
func LoadServer(path string) (ServerConfig, error) {
	cfg, err := DecodeServer(path)
	if err != nil {
		return ServerConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// DecodeServer is LoadServer without validation, for callers that override
// fields before validating.
func DecodeServer(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	var raw serverFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("load server config: %w", err)
	}
	if err := checkUndecoded(meta); err != nil {
		return ServerConfig{}, err
	}

	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("advertise") {
		cfg.Advertise = strings.TrimSpace(raw.Advertise)
	}
	if meta.IsDefined("codec") {
		if cfg.Codec, err = codec.ParseCodecType(raw.Codec); err != nil {
			return ServerConfig{}, fmt.Errorf("parse codec: %w", err)
		}
	}
	if meta.IsDefined("tag") {
		cfg.Tag = strings.TrimSpace(raw.Tag)
	}
	if meta.IsDefined("heartbeat") {
		if cfg.Heartbeat, err = parseDuration("heartbeat", raw.Heartbeat); err != nil {
			return ServerConfig{}, err
		}
	}
	if meta.IsDefined("ttl") {
		cfg.TTL = raw.TTL
	}
	if meta.IsDefined("label") {
		cfg.Instance.Label = strings.TrimSpace(raw.Label)
	}
	if meta.IsDefined("weight") {
		cfg.Instance.Weight = raw.Weight
	}
	if meta.IsDefined("version") {
		cfg.Instance.Version = strings.TrimSpace(raw.Version)
	}
	if meta.IsDefined("shutdown_timeout") {
		if cfg.ShutdownTimeout, err = parseDuration("shutdown_timeout", raw.ShutdownTimeout); err != nil {
			return ServerConfig{}, err
		}
	}
	if err := applyRegistry(meta, raw.Registry, &cfg.Registry); err != nil {
		return ServerConfig{}, err
	}
	if err := applyMiddleware(meta, raw.Middleware, &cfg.Middleware); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// LoadClient reads a msgrpc config file over DefaultClientConfig and validates it.
func LoadClient(path string) (ClientConfig, error) {
	cfg, err := DecodeClient(path)
	if err != nil {
		return ClientConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

// DecodeClient is LoadClient without validation, for callers that override
// fields before validating.
func DecodeClient(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()

	var raw clientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("load client config: %w", err)
	}
	if err := checkUndecoded(meta); err != nil {
		return ClientConfig{}, err
	}

	if meta.IsDefined("codec") {
		if cfg.Codec, err = codec.ParseCodecType(raw.Codec); err != nil {
			return ClientConfig{}, fmt.Errorf("parse codec: %w", err)
		}
	}
	if meta.IsDefined("tag") {
		cfg.Tag = strings.TrimSpace(raw.Tag)
	}
	if meta.IsDefined("heartbeat") {
		if cfg.Heartbeat, err = parseDuration("heartbeat", raw.Heartbeat); err != nil {
			return ClientConfig{}, err
		}
	}
	if meta.IsDefined("dial_timeout") {
		if cfg.DialTimeout, err = parseDuration("dial_timeout", raw.DialTimeout); err != nil {
			return ClientConfig{}, err
		}
	}
	if meta.IsDefined("balancer") {
		cfg.Balancer = strings.TrimSpace(raw.Balancer)
	}
	if err := applyRegistry(meta, raw.Registry, &cfg.Registry); err != nil {
		return ClientConfig{}, err
	}
	if err := applyMiddleware(meta, raw.Middleware, &cfg.Middleware); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func applyRegistry(meta toml.MetaData, raw registryFile, cfg *RegistryConfig) error {
	if meta.IsDefined("registry", "kind") {
		cfg.Kind = strings.ToLower(strings.TrimSpace(raw.Kind))
	}
	if meta.IsDefined("registry", "endpoints") {
		cfg.Endpoints = normalizeList(raw.Endpoints)
	}
	if meta.IsDefined("registry", "servers") {
		cfg.Servers = normalizeList(raw.Servers)
	}
	if meta.IsDefined("registry", "dial_timeout") {
		d, err := parseDuration("registry.dial_timeout", raw.DialTimeout)
		if err != nil {
			return err
		}
		cfg.DialTimeout = d
	}
	return nil
}

func applyMiddleware(meta toml.MetaData, raw middlewareFile, cfg *MiddlewareConfig) error {
	var err error
	if meta.IsDefined("middleware", "log_requests") {
		cfg.LogRequests = raw.LogRequests
	}
	if meta.IsDefined("middleware", "timeout") {
		if cfg.Timeout, err = parseDuration("middleware.timeout", raw.Timeout); err != nil {
			return err
		}
	}
	if meta.IsDefined("middleware", "rate_limit") {
		cfg.RateLimit = raw.RateLimit
	}
	if meta.IsDefined("middleware", "burst") {
		cfg.Burst = raw.Burst
	}
	if meta.IsDefined("middleware", "retries") {
		cfg.Retries = raw.Retries
	}
	if meta.IsDefined("middleware", "retry_delay") {
		if cfg.RetryDelay, err = parseDuration("middleware.retry_delay", raw.RetryDelay); err != nil {
			return err
		}
	}
	return nil
}

func (c ServerConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("%w: listen is empty", ErrInvalid)
	}
	if c.Tag == "" {
		return fmt.Errorf("%w: tag is empty", ErrInvalid)
	}
	if c.Heartbeat < 0 {
		return fmt.Errorf("%w: heartbeat is negative", ErrInvalid)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive", ErrInvalid)
	}
	if c.Instance.Weight < 0 {
		return fmt.Errorf("%w: weight is negative", ErrInvalid)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: shutdown_timeout must be positive", ErrInvalid)
	}
	if c.Registry.Kind == RegistryStatic {
		return fmt.Errorf("%w: registry kind %q is client only", ErrInvalid, RegistryStatic)
	}
	if err := c.Registry.validate(); err != nil {
		return err
	}
	return c.Middleware.validate()
}

func (c ClientConfig) Validate() error {
	if c.Tag == "" {
		return fmt.Errorf("%w: tag is empty", ErrInvalid)
	}
	if c.Heartbeat < 0 {
		return fmt.Errorf("%w: heartbeat is negative", ErrInvalid)
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("%w: dial_timeout must be positive", ErrInvalid)
	}
	if _, err := loadbalance.ByName(c.Balancer); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Registry.Kind == RegistryStatic && len(c.Registry.Servers) == 0 {
		return fmt.Errorf("%w: static registry needs at least one server", ErrInvalid)
	}
	if err := c.Registry.validate(); err != nil {
		return err
	}
	return c.Middleware.validate()
}

func (c RegistryConfig) validate() error {
	switch c.Kind {
	case RegistryMemory, RegistryStatic:
	case RegistryEtcd:
		if len(c.Endpoints) == 0 {
			return fmt.Errorf("%w: etcd registry needs at least one endpoint", ErrInvalid)
		}
		if c.DialTimeout <= 0 {
			return fmt.Errorf("%w: registry.dial_timeout must be positive", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown registry kind %q", ErrInvalid, c.Kind)
	}
	return nil
}

func (c MiddlewareConfig) validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("%w: middleware.timeout is negative", ErrInvalid)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("%w: middleware.rate_limit is negative", ErrInvalid)
	}
	if c.RateLimit > 0 && c.Burst < 1 {
		return fmt.Errorf("%w: middleware.burst must be at least 1", ErrInvalid)
	}
	if c.Retries < 0 {
		return fmt.Errorf("%w: middleware.retries is negative", ErrInvalid)
	}
	if c.Retries > 0 && c.RetryDelay <= 0 {
		return fmt.Errorf("%w: middleware.retry_delay must be positive", ErrInvalid)
	}
	return nil
}

func checkUndecoded(meta toml.MetaData) error {
	if keys := meta.Undecoded(); len(keys) > 0 {
		names := make([]string, len(keys))
		for i, k := range keys {
			names[i] = k.String()
		}
		return fmt.Errorf("%w: unknown keys %s", ErrInvalid, strings.Join(names, ", "))
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
