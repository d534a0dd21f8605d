package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgrpc/client"
	"msgrpc/codec"
	"msgrpc/registry"
)

func TestLoadConfigListenOverride(t *testing.T) {
	cfg, err := loadConfig("", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:0", cfg.Listen)

	path := filepath.Join(t.TempDir(), "msgrpcd.toml")
	require.NoError(t, os.WriteFile(path, []byte("listen = \":9999\"\ncodec = \"binary\"\n"), 0o644))
	cfg, err = loadConfig(path, "")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Listen)
	assert.Equal(t, codec.CodecTypeBinary, cfg.Codec)
}

func TestDemoProcedures(t *testing.T) {
	cfg, err := loadConfig("", "127.0.0.1:0")
	require.NoError(t, err)
	cfg.Heartbeat = 0
	svr, err := newServer(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"Arith.Add", "Arith.Div", "Arith.Mul", "double"}, svr.Procedures())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go svr.ServeListener(ln, "", nil)
	defer svr.Shutdown(time.Second)

	c := client.New(registry.NewStaticRegistry(ln.Addr().String()), nil, client.WithHeartbeat(0))
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var reply Reply
	require.NoError(t, c.Call(ctx, "Arith.Mul", Args{A: 6, B: 7}, &reply))
	assert.Equal(t, 42, reply.Result)

	err = c.Call(ctx, "Arith.Div", Args{A: 1}, &reply)
	require.Error(t, err)
	assert.Equal(t, errDivideByZero.Error(), err.Error())

	var doubled float64
	require.NoError(t, c.Call(ctx, "double", 21, &doubled))
	assert.Equal(t, 42.0, doubled)
}
