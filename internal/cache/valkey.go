package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValkeyProvider implements Provider backed by a Valkey/Redis-compatible server.
// Connections are dialed per operation; the engine's cache traffic is light
// enough that pooling is not worth the complexity.
type ValkeyProvider struct {
	cfg ValkeyConfig
}

// ValkeyConfig holds connection parameters for the Valkey cluster.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
}

// NewValkeyProvider creates a Provider using the supplied configuration. It
// pings the target to fail fast on bad credentials or connectivity.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}

	provider := &ValkeyProvider{cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := provider.ping(ctx); err != nil {
		return nil, err
	}
	return provider, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := p.withConn(ctx, func(rc *respConn) error {
		if err := rc.command("GET", []byte(key)); err != nil {
			return err
		}
		reply, err := rc.reply()
		if err != nil {
			return err
		}
		switch reply.kind {
		case respNil:
			return ErrCacheMiss
		case respBulk:
			payload = reply.data
			return nil
		default:
			return fmt.Errorf("unexpected valkey reply %q for GET", reply.kind)
		}
	})
	return payload, err
}

// Set stores bytes with the provided TTL.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.withConn(ctx, func(rc *respConn) error {
		if err := rc.command("SET", setArgs(key, value, ttl, false)...); err != nil {
			return err
		}
		reply, err := rc.reply()
		if err != nil {
			return err
		}
		if reply.kind != respSimple || string(reply.data) != "OK" {
			return fmt.Errorf("unexpected SET response: %s", reply.data)
		}
		return nil
	})
}

// SetNX stores the value only if the key does not exist.
func (p *ValkeyProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var stored bool
	err := p.withConn(ctx, func(rc *respConn) error {
		if err := rc.command("SET", setArgs(key, value, ttl, true)...); err != nil {
			return err
		}
		reply, err := rc.reply()
		if err != nil {
			return err
		}
		switch reply.kind {
		case respSimple:
			stored = true
			return nil
		case respNil:
			stored = false
			return nil
		default:
			return fmt.Errorf("unexpected SETNX response %q", reply.kind)
		}
	})
	return stored, err
}

// Del removes a key from the cache.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	return p.withConn(ctx, func(rc *respConn) error {
		if err := rc.command("DEL", []byte(key)); err != nil {
			return err
		}
		_, err := rc.reply()
		return err
	})
}

// Close closes the underlying client (no-op for the per-call dialer).
func (p *ValkeyProvider) Close() error { return nil }

func setArgs(key string, value []byte, ttl time.Duration, nx bool) [][]byte {
	args := [][]byte{[]byte(key), value}
	if ttl > 0 {
		ms := strconv.FormatInt(ttl.Milliseconds(), 10)
		args = append(args, []byte("PX"), []byte(ms))
	}
	if nx {
		args = append(args, []byte("NX"))
	}
	return args
}

func (p *ValkeyProvider) ping(ctx context.Context) error {
	return p.withConn(ctx, func(rc *respConn) error {
		if err := rc.command("PING"); err != nil {
			return err
		}
		reply, err := rc.reply()
		if err != nil {
			return err
		}
		if reply.kind != respSimple || string(reply.data) != "PONG" {
			return fmt.Errorf("unexpected PING response: %s", reply.data)
		}
		return nil
	})
}

func (p *ValkeyProvider) withConn(ctx context.Context, fn func(*respConn) error) error {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rc, err := p.dial(ctx)
		if err == nil {
			err = p.handshake(rc)
			if err == nil {
				err = fn(rc)
				rc.close()
				if err == nil {
					return nil
				}
				lastErr = err
				if !retryable(err) {
					return err
				}
				continue
			}
			rc.close()
		}

		lastErr = err
		if !retryable(err) || attempt == p.cfg.MaxRetries-1 {
			return err
		}
		time.Sleep(time.Duration(1<<attempt) * 25 * time.Millisecond)
	}
	return lastErr
}

func (p *ValkeyProvider) dial(ctx context.Context) (*respConn, error) {
	dialer := net.Dialer{Timeout: dialBudget(ctx, p.cfg.DialTimeout)}
	var (
		conn net.Conn
		err  error
	)
	if p.cfg.TLS {
		host := p.cfg.Addr
		if h, _, splitErr := net.SplitHostPort(p.cfg.Addr); splitErr == nil {
			host = h
		}
		tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
		conn, err = tls.DialWithDialer(&dialer, "tcp", p.cfg.Addr, tlsCfg)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}
	return &respConn{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		writer:       bufio.NewWriter(conn),
		readTimeout:  p.cfg.ReadTimeout,
		writeTimeout: p.cfg.WriteTimeout,
	}, nil
}

func (p *ValkeyProvider) handshake(rc *respConn) error {
	if p.cfg.Password != "" {
		args := [][]byte{[]byte(p.cfg.Password)}
		if p.cfg.Username != "" {
			args = [][]byte{[]byte(p.cfg.Username), []byte(p.cfg.Password)}
		}
		if err := rc.command("AUTH", args...); err != nil {
			return err
		}
		reply, err := rc.reply()
		if err != nil {
			return err
		}
		if reply.kind != respSimple || !strings.EqualFold(string(reply.data), "OK") {
			return fmt.Errorf("auth failed: %s", reply.data)
		}
	}
	if p.cfg.DB > 0 {
		if err := rc.command("SELECT", []byte(strconv.Itoa(p.cfg.DB))); err != nil {
			return err
		}
		reply, err := rc.reply()
		if err != nil {
			return err
		}
		if reply.kind != respSimple || !strings.EqualFold(string(reply.data), "OK") {
			return fmt.Errorf("select failed: %s", reply.data)
		}
	}
	return nil
}

// respKind enumerates the subset of RESP types needed by the provider.
type respKind byte

const (
	respSimple respKind = '+'
	respBulk   respKind = '$'
	respInt    respKind = ':'
	respNil    respKind = '_'
)

type respReply struct {
	kind respKind
	data []byte
}

// respConn wraps a network connection with RESP read/write helpers.
type respConn struct {
	conn         net.Conn
	reader       *bufio.Reader
	writer       *bufio.Writer
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (rc *respConn) close() {
	_ = rc.conn.Close()
}

func (rc *respConn) command(name string, args ...[]byte) error {
	if err := rc.conn.SetWriteDeadline(time.Now().Add(rc.writeTimeout)); err != nil {
		return err
	}
	parts := append([][]byte{[]byte(name)}, args...)
	if _, err := fmt.Fprintf(rc.writer, "*%d\r\n", len(parts)); err != nil {
		return err
	}
	for _, part := range parts {
		if _, err := fmt.Fprintf(rc.writer, "$%d\r\n", len(part)); err != nil {
			return err
		}
		if _, err := rc.writer.Write(part); err != nil {
			return err
		}
		if _, err := rc.writer.WriteString("\r\n"); err != nil {
			return err
		}
	}
	return rc.writer.Flush()
}

func (rc *respConn) reply() (respReply, error) {
	if err := rc.conn.SetReadDeadline(time.Now().Add(rc.readTimeout)); err != nil {
		return respReply{}, err
	}
	prefix, err := rc.reader.ReadByte()
	if err != nil {
		return respReply{}, err
	}
	switch prefix {
	case '+':
		line, err := rc.line()
		return respReply{kind: respSimple, data: line}, err
	case '-':
		line, err := rc.line()
		if err != nil {
			return respReply{}, err
		}
		return respReply{}, errors.New(string(line))
	case ':':
		line, err := rc.line()
		return respReply{kind: respInt, data: line}, err
	case '$':
		line, err := rc.line()
		if err != nil {
			return respReply{}, err
		}
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return respReply{}, err
		}
		if size < 0 {
			return respReply{kind: respNil}, nil
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(rc.reader, buf); err != nil {
			return respReply{}, err
		}
		if err := rc.discardCRLF(); err != nil {
			return respReply{}, err
		}
		return respReply{kind: respBulk, data: buf}, nil
	default:
		return respReply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (rc *respConn) line() ([]byte, error) {
	line, err := rc.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return []byte(line), nil
}

func (rc *respConn) discardCRLF() error {
	b1, err := rc.reader.ReadByte()
	if err != nil {
		return err
	}
	b2, err := rc.reader.ReadByte()
	if err != nil {
		return err
	}
	if b1 != '\r' || b2 != '\n' {
		return fmt.Errorf("invalid line termination")
	}
	return nil
}

func dialBudget(ctx context.Context, d time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return time.Millisecond
		}
		if d == 0 || remaining < d {
			return remaining
		}
	}
	if d <= 0 {
		return time.Millisecond
	}
	return d
}

func retryable(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
