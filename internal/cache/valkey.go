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

// ValkeyConfig holds connection parameters for the Valkey server.
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

// ValkeyProvider implements Provider against a Valkey/Redis-compatible server using RESP2.
// Every command uses a fresh connection; graph analyses and locks are low volume.
type ValkeyProvider struct {
	cfg ValkeyConfig
}

// NewValkeyProvider creates a Provider and pings the server so bad credentials or
// addresses fail at startup.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	applyDefaults(&cfg)
	p := &ValkeyProvider{cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	reply, err := p.do(ctx, "PING")
	if err != nil {
		return nil, fmt.Errorf("valkey ping: %w", err)
	}
	if reply.str != "PONG" {
		return nil, fmt.Errorf("unexpected PING response: %q", reply.str)
	}
	return p, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := p.do(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	if reply.null {
		return nil, ErrCacheMiss
	}
	return reply.bulk, nil
}

// Set stores bytes with the provided TTL. A non-positive TTL stores without expiry.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	reply, err := p.do(ctx, setArgs(key, value, ttl, false)...)
	if err != nil {
		return err
	}
	if reply.str != "OK" {
		return fmt.Errorf("unexpected SET response: %q", reply.str)
	}
	return nil
}

// SetNX stores the value only if the key does not exist and reports whether it did.
func (p *ValkeyProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	reply, err := p.do(ctx, setArgs(key, value, ttl, true)...)
	if err != nil {
		return false, err
	}
	return !reply.null && reply.str == "OK", nil
}

// Del removes a key.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	_, err := p.do(ctx, "DEL", key)
	return err
}

// Close is a no-op; connections are not pooled.
func (p *ValkeyProvider) Close() error { return nil }

func setArgs(key string, value []byte, ttl time.Duration, nx bool) []any {
	args := []any{"SET", key, value}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	if nx {
		args = append(args, "NX")
	}
	return args
}

// do runs one command, retrying transient network failures with exponential backoff.
func (p *ValkeyProvider) do(ctx context.Context, args ...any) (respValue, error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return respValue{}, err
		}
		reply, err := p.roundTrip(ctx, args)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !isTransient(err) {
			break
		}
		select {
		case <-ctx.Done():
			return respValue{}, ctx.Err()
		case <-time.After(time.Duration(1<<attempt) * 25 * time.Millisecond):
		}
	}
	return respValue{}, lastErr
}

func (p *ValkeyProvider) roundTrip(ctx context.Context, args []any) (respValue, error) {
	conn, err := p.dial(ctx)
	if err != nil {
		return respValue{}, err
	}
	defer conn.Close()

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	exchange := func(cmd []any) (respValue, error) {
		if err := conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout)); err != nil {
			return respValue{}, err
		}
		if err := writeCommand(rw.Writer, cmd); err != nil {
			return respValue{}, err
		}
		if err := conn.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout)); err != nil {
			return respValue{}, err
		}
		return readValue(rw.Reader)
	}

	if p.cfg.Password != "" {
		auth := []any{"AUTH", p.cfg.Password}
		if p.cfg.Username != "" {
			auth = []any{"AUTH", p.cfg.Username, p.cfg.Password}
		}
		if _, err := exchange(auth); err != nil {
			return respValue{}, fmt.Errorf("auth: %w", err)
		}
	}
	if p.cfg.DB > 0 {
		if _, err := exchange([]any{"SELECT", strconv.Itoa(p.cfg.DB)}); err != nil {
			return respValue{}, fmt.Errorf("select db %d: %w", p.cfg.DB, err)
		}
	}
	return exchange(args)
}

func (p *ValkeyProvider) dial(ctx context.Context) (net.Conn, error) {
	timeout := p.cfg.DialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = max(remaining, time.Millisecond)
		}
	}
	dialer := &net.Dialer{Timeout: timeout}
	if !p.cfg.TLS {
		return dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	host, _, err := net.SplitHostPort(p.cfg.Addr)
	if err != nil {
		host = p.cfg.Addr
	}
	td := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}}
	return td.DialContext(ctx, "tcp", p.cfg.Addr)
}

// respValue is the subset of RESP2 replies the provider understands.
type respValue struct {
	str  string
	num  int64
	bulk []byte
	null bool
}

// ServerError is an error reply sent by the server.
type ServerError string

func (e ServerError) Error() string { return "valkey: " + string(e) }

func writeCommand(w *bufio.Writer, args []any) error {
	fmt.Fprintf(w, "*%d\r\n", len(args))
	for _, arg := range args {
		var b []byte
		switch v := arg.(type) {
		case string:
			b = []byte(v)
		case []byte:
			b = v
		default:
			return fmt.Errorf("unsupported argument type %T", arg)
		}
		fmt.Fprintf(w, "$%d\r\n", len(b))
		w.Write(b)
		w.WriteString("\r\n")
	}
	return w.Flush()
}

func readValue(r *bufio.Reader) (respValue, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return respValue{}, err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return respValue{}, errors.New("empty RESP line")
	}
	prefix, body := line[0], line[1:]
	switch prefix {
	case '+':
		return respValue{str: body}, nil
	case '-':
		return respValue{}, ServerError(body)
	case ':':
		n, err := strconv.ParseInt(body, 10, 64)
		return respValue{num: n}, err
	case '$':
		size, err := strconv.Atoi(body)
		if err != nil {
			return respValue{}, fmt.Errorf("bulk length: %w", err)
		}
		if size < 0 {
			return respValue{null: true}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return respValue{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return respValue{}, errors.New("bulk string missing CRLF")
		}
		return respValue{bulk: buf[:size]}, nil
	case '_':
		return respValue{null: true}, nil
	default:
		return respValue{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func applyDefaults(cfg *ValkeyConfig) {
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
}

func isTransient(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
