package streambus

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSBus is the JetStream-backed stream transport: either an in-process
// embedded server (dev/test, no external infrastructure) or a connection
// to a running cluster. server is nil in the external case.
type NATSBus struct {
	server *server.Server
	conn   *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
}

// EmbeddedConfig configures the embedded server and its single stream.
type EmbeddedConfig struct {
	DataDir    string
	Host       string
	Port       int
	StreamName string
	MaxAge     time.Duration
}

// DefaultEmbeddedConfig returns dev defaults for the notifications stream.
// NATS subjects cannot contain ':', so Redis-style stream names map
// onto subjects with '.' separators.
func DefaultEmbeddedConfig(dataDir string) EmbeddedConfig {
	return EmbeddedConfig{
		DataDir:    dataDir,
		Host:       "127.0.0.1",
		Port:       4222,
		StreamName: "notifications",
		MaxAge:     24 * time.Hour,
	}
}

// Subject maps a Redis-style stream name onto a NATS subject.
func Subject(stream string) string {
	out := []byte(stream)
	for i, c := range out {
		if c == ':' {
			out[i] = '.'
		}
	}
	return string(out)
}

// NewEmbeddedNATS starts the server, connects to it, and ensures the
// stream exists.
func NewEmbeddedNATS(ctx context.Context, cfg EmbeddedConfig) (*NATSBus, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create nats data dir: %w", err)
	}

	ns, err := server.NewServer(&server.Options{
		Host:      cfg.Host,
		Port:      cfg.Port,
		JetStream: true,
		StoreDir:  cfg.DataDir,
		NoLog:     true,
		NoSigs:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedded nats server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded nats server not ready within timeout")
	}
	slog.Info("embedded NATS server started", "host", cfg.Host, "port", cfg.Port, "data_dir", cfg.DataDir)

	conn, err := nats.Connect(ns.ClientURL(),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("connect to embedded nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		ns.Shutdown()
		return nil, fmt.Errorf("init jetstream: %w", err)
	}

	stream, err := ensureStream(ctx, js, cfg)
	if err != nil {
		conn.Close()
		ns.Shutdown()
		return nil, err
	}

	return &NATSBus{server: ns, conn: conn, js: js, stream: stream}, nil
}

// ConnectNATS joins a running NATS cluster at url and ensures the stream.
func ConnectNATS(ctx context.Context, url string, cfg EmbeddedConfig) (*NATSBus, error) {
	conn, err := nats.Connect(url,
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("init jetstream: %w", err)
	}
	stream, err := ensureStream(ctx, js, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &NATSBus{conn: conn, js: js, stream: stream}, nil
}

func ensureStream(ctx context.Context, js jetstream.JetStream, cfg EmbeddedConfig) (jetstream.Stream, error) {
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.StreamName,
		Subjects: []string{cfg.StreamName + ".>"},
		MaxAge:   cfg.MaxAge,
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.StreamName, err)
	}
	return stream, nil
}

// JetStream exposes the JetStream handle for NATSProducer.
func (e *NATSBus) JetStream() jetstream.JetStream { return e.js }

// Consumer creates (or resumes) a durable consumer on the stream, the
// JetStream analogue of a Redis consumer group.
func (e *NATSBus) Consumer(ctx context.Context, durable string) (jetstream.Consumer, error) {
	c, err := e.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:   durable,
		AckPolicy: jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure durable consumer %s: %w", durable, err)
	}
	return c, nil
}

// Connected reports client connectivity, for readiness checks.
func (e *NATSBus) Connected() bool { return e.conn.IsConnected() }

// Close disconnects and, for the embedded case, shuts the server down.
func (e *NATSBus) Close() error {
	e.conn.Close()
	if e.server != nil {
		e.server.Shutdown()
		e.server.WaitForShutdown()
	}
	return nil
}
