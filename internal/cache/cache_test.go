package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeValkey speaks enough RESP2 for PING, AUTH, GET, SET [PX n] [NX] and DEL.
type fakeValkey struct {
	ln       net.Listener
	mu       sync.Mutex
	data     map[string][]byte
	password string
	commands []string
}

func startFakeValkey(t *testing.T, password string) *fakeValkey {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeValkey{ln: ln, data: map[string][]byte{}, password: password}
	go f.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return f
}

func (f *fakeValkey) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeValkey) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	authed := f.password == ""
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		cmd := strings.ToUpper(args[0])
		f.mu.Lock()
		f.commands = append(f.commands, cmd)
		var reply string
		switch {
		case cmd == "AUTH":
			if args[len(args)-1] == f.password {
				authed = true
				reply = "+OK\r\n"
			} else {
				reply = "-WRONGPASS invalid password\r\n"
			}
		case !authed:
			reply = "-NOAUTH Authentication required\r\n"
		case cmd == "PING":
			reply = "+PONG\r\n"
		case cmd == "GET":
			if v, ok := f.data[args[1]]; ok {
				reply = fmt.Sprintf("$%d\r\n%s\r\n", len(v), v)
			} else {
				reply = "$-1\r\n"
			}
		case cmd == "SET":
			nx := strings.EqualFold(args[len(args)-1], "NX")
			if _, exists := f.data[args[1]]; nx && exists {
				reply = "$-1\r\n"
			} else {
				f.data[args[1]] = []byte(args[2])
				reply = "+OK\r\n"
			}
		case cmd == "DEL":
			delete(f.data, args[1])
			reply = ":1\r\n"
		default:
			reply = "-ERR unknown command\r\n"
		}
		f.mu.Unlock()
		if _, err := io.WriteString(conn, reply); err != nil {
			return
		}
	}
}

func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(line[1:]))
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		header, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimSpace(header[1:]))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}

func TestValkeyProviderRoundTrip(t *testing.T) {
	srv := startFakeValkey(t, "secret")
	p, err := NewValkeyProvider(ValkeyConfig{Addr: srv.ln.Addr().String(), Password: "secret"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	ctx := context.Background()

	if _, err := p.Get(ctx, "missing"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}
	if err := p.Set(ctx, "k", []byte("line1\r\nline2"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := p.Get(ctx, "k")
	if err != nil || string(got) != "line1\r\nline2" {
		t.Fatalf("get returned %q, %v", got, err)
	}

	ok, err := p.SetNX(ctx, "k", []byte("other"), time.Minute)
	if err != nil || ok {
		t.Fatalf("SetNX on existing key should fail, got %v %v", ok, err)
	}
	if err := p.Del(ctx, "k"); err != nil {
		t.Fatalf("del: %v", err)
	}
	ok, err = p.SetNX(ctx, "k", []byte("other"), 0)
	if err != nil || !ok {
		t.Fatalf("SetNX on free key should succeed, got %v %v", ok, err)
	}
}

func TestValkeyProviderRejectsBadPassword(t *testing.T) {
	srv := startFakeValkey(t, "secret")
	_, err := NewValkeyProvider(ValkeyConfig{Addr: srv.ln.Addr().String(), Password: "wrong"})
	var serverErr ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected server error, got %v", err)
	}
}

func TestValkeyProviderRequiresAddr(t *testing.T) {
	if _, err := NewValkeyProvider(ValkeyConfig{}); err == nil {
		t.Fatalf("expected error without addr")
	}
}

func TestMemoryProviderTTL(t *testing.T) {
	m := NewMemoryProvider()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if err := m.Set(ctx, "a", []byte("1"), time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ok, _ := m.SetNX(ctx, "a", []byte("2"), 0); ok {
		t.Fatalf("SetNX must not overwrite a live key")
	}
	now = now.Add(time.Second)
	if _, err := m.Get(ctx, "a"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected expiry, got %v", err)
	}
	if ok, _ := m.SetNX(ctx, "a", []byte("2"), 0); !ok {
		t.Fatalf("SetNX should claim an expired key")
	}
}

func TestJSONHelpers(t *testing.T) {
	m := NewMemoryProvider()
	ctx := context.Background()
	type payload struct {
		Health float64 `json:"health"`
	}
	if err := SetJSON(ctx, m, GraphKey("corr-1"), payload{Health: 0.4}, 0); err != nil {
		t.Fatalf("set json: %v", err)
	}
	var out payload
	if err := GetJSON(ctx, m, GraphKey("corr-1"), &out); err != nil || out.Health != 0.4 {
		t.Fatalf("get json returned %+v, %v", out, err)
	}
	if err := GetJSON(ctx, m, GraphKey("corr-2"), &out); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
}
