package mqtt5

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// ErrTLSRequired is returned when TLS configuration is required but not provided.
var ErrTLSRequired = errors.New("TLS configuration is required for QUIC")

// quicALPN is the Application-Layer Protocol Negotiation token this
// library advertises for MQTT over QUIC. There's no IANA registration
// for it; brokers that speak MQTT-over-QUIC at all agree on this token
// by convention with clients built against the same transport.
const quicALPN = "mqtt"

// withMQTTALPN returns cfg with NextProtos defaulted to quicALPN if the
// caller didn't set one, cloning first so the caller's original is never
// mutated. A cfg that already has NextProtos is returned as is.
func withMQTTALPN(cfg *tls.Config) *tls.Config {
	if cfg == nil {
		cfg = &tls.Config{MinVersion: tls.VersionTLS13}
	}
	if len(cfg.NextProtos) == 0 {
		cfg = cfg.Clone()
		cfg.NextProtos = []string{quicALPN}
	}
	return cfg
}

// QUICConn adapts a QUIC stream over a QUIC connection to net.Conn, the
// shape every Dialer in this package returns.
type QUICConn struct {
	conn   *quic.Conn
	stream *quic.Stream
	mu     sync.Mutex
}

func (c *QUICConn) Read(b []byte) (int, error) {
	return c.stream.Read(b)
}

func (c *QUICConn) Write(b []byte) (int, error) {
	return c.stream.Write(b)
}

// Close tears down the stream before the underlying QUIC connection,
// so a concurrent Read/Write unblocks on the stream error rather than
// racing a connection-level teardown.
func (c *QUICConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.stream.Close(); err != nil {
		return err
	}
	return c.conn.CloseWithError(0, "")
}

func (c *QUICConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *QUICConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *QUICConn) SetDeadline(t time.Time) error {
	if err := c.stream.SetReadDeadline(t); err != nil {
		return err
	}
	return c.stream.SetWriteDeadline(t)
}

func (c *QUICConn) SetReadDeadline(t time.Time) error {
	return c.stream.SetReadDeadline(t)
}

func (c *QUICConn) SetWriteDeadline(t time.Time) error {
	return c.stream.SetWriteDeadline(t)
}

// QUICDialer opens an MQTT-over-QUIC connection. QUIC mandates TLS 1.3,
// so a zero-value TLSConfig is filled in with sane defaults rather than
// left to fail deep inside quic-go.
type QUICDialer struct {
	TLSConfig  *tls.Config
	QUICConfig *quic.Config
}

// NewQUICDialer builds a dialer, defaulting tlsConfig to TLS 1.3 with
// the MQTT ALPN token when nil.
func NewQUICDialer(tlsConfig *tls.Config) *QUICDialer {
	return &QUICDialer{TLSConfig: withMQTTALPN(tlsConfig)}
}

// Dial opens a QUIC connection to address ("host:port") and a single
// bidirectional stream on it for the MQTT session.
func (d *QUICDialer) Dial(ctx context.Context, address string) (Conn, error) {
	tlsConfig := withMQTTALPN(d.TLSConfig)

	conn, err := quic.DialAddr(ctx, address, tlsConfig, d.QUICConfig)
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "failed to open stream")
		return nil, err
	}

	return &QUICConn{conn: conn, stream: stream}, nil
}

// QUICListener accepts MQTT-over-QUIC connections. Nothing in this
// client library listens in production, but it's the only way to
// stand up a QUIC endpoint to dial against, so it's kept as test
// scaffolding for transport_quic_test.go rather than duplicated there.
type QUICListener struct {
	listener *quic.Listener
}

// NewQUICListener starts listening on addr. TLS is mandatory for QUIC;
// a nil tlsConfig is rejected outright rather than silently defaulted,
// since unlike the dialer side there's no client identity to fall back
// on.
func NewQUICListener(addr string, tlsConfig *tls.Config, quicConfig *quic.Config) (*QUICListener, error) {
	if tlsConfig == nil {
		return nil, ErrTLSRequired
	}

	tlsConfig = withMQTTALPN(tlsConfig)
	if tlsConfig.MinVersion < tls.VersionTLS13 {
		tlsConfig = tlsConfig.Clone()
		tlsConfig.MinVersion = tls.VersionTLS13
	}

	listener, err := quic.ListenAddr(addr, tlsConfig, quicConfig)
	if err != nil {
		return nil, err
	}
	return &QUICListener{listener: listener}, nil
}

// Accept blocks for the next incoming connection and opens its stream.
func (l *QUICListener) Accept(ctx context.Context) (Conn, error) {
	conn, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "failed to accept stream")
		return nil, err
	}
	return &QUICConn{conn: conn, stream: stream}, nil
}

func (l *QUICListener) Close() error {
	return l.listener.Close()
}

func (l *QUICListener) Addr() net.Addr {
	return l.listener.Addr()
}

// NetListener adapts the QUIC listener to net.Listener, for test
// servers that want to hand a listener to generic net/http-style code.
func (l *QUICListener) NetListener() net.Listener {
	ctx, cancel := context.WithCancel(context.Background())
	return &quicNetListener{quicListener: l, ctx: ctx, cancel: cancel}
}

type quicNetListener struct {
	quicListener *QUICListener
	ctx          context.Context
	cancel       context.CancelFunc
}

func (l *quicNetListener) Accept() (net.Conn, error) {
	conn, err := l.quicListener.Accept(l.ctx)
	if err != nil {
		return nil, err
	}
	return conn.(*QUICConn), nil
}

func (l *quicNetListener) Close() error {
	l.cancel()
	return l.quicListener.Close()
}

func (l *quicNetListener) Addr() net.Addr {
	return l.quicListener.Addr()
}
