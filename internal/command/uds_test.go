package command

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gatekeeper.io/dataplane/internal/gk"
	"gatekeeper.io/dataplane/internal/mailbox"
	"gatekeeper.io/dataplane/internal/rss"
)

func newTestServerHandler(t *testing.T) *Handler {
	t.Helper()
	mb := mailbox.New(16)
	table, err := rss.Build(1)
	if err != nil {
		t.Fatalf("rss.Build: %v", err)
	}
	return NewHandler(HandlerConfig{
		Workers:     []*mailbox.Mailbox{mb},
		Redirection: table,
		Hasher:      rss.New(nil),
		Clock:       gk.DefaultClock,
		StartedAt:   time.Now(),
	})
}

func TestUDSServerClient_Integration(t *testing.T) {
	tmpDir := t.TempDir()
	socketPath := filepath.Join(tmpDir, "test.sock")

	handler := newTestServerHandler(t)
	server := NewUDSServer(socketPath, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	time.Sleep(100 * time.Millisecond)

	client := NewUDSClient(socketPath, 5*time.Second)

	t.Run("status", func(t *testing.T) {
		resp, err := client.Status(context.Background())
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		if resp.Error != nil {
			t.Errorf("unexpected error: %v", resp.Error.Message)
		}
	})

	t.Run("stats", func(t *testing.T) {
		resp, err := client.Stats(context.Background())
		if err != nil {
			t.Fatalf("Stats failed: %v", err)
		}
		if resp.Error != nil {
			t.Errorf("unexpected error: %v", resp.Error.Message)
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := client.Ping(context.Background()); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("unknown_method", func(t *testing.T) {
		resp, err := client.Call(context.Background(), "unknown.method", nil)
		if err != nil {
			t.Fatalf("Call failed: %v", err)
		}
		if resp.Error == nil {
			t.Error("expected error for unknown method")
		}
		if resp.Error.Code != ErrCodeMethodNotFound {
			t.Errorf("error code = %d, want %d", resp.Error.Code, ErrCodeMethodNotFound)
		}
	})

	cancel()

	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			t.Errorf("server error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("server didn't stop in time")
	}

	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Error("socket file not removed after server stop")
	}
}

func TestUDSClient_ConnectionError(t *testing.T) {
	client := NewUDSClient("/tmp/non-existent-socket.sock", 1*time.Second)

	_, err := client.Status(context.Background())
	if err == nil {
		t.Error("expected connection error")
	}
}

func TestUDSClient_Timeout(t *testing.T) {
	tmpDir := t.TempDir()
	socketPath := filepath.Join(tmpDir, "test-timeout.sock")

	handler := newTestServerHandler(t)
	server := NewUDSServer(socketPath, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go server.Start(ctx)
	time.Sleep(100 * time.Millisecond)

	client := NewUDSClient(socketPath, 1*time.Nanosecond)

	_, err := client.Status(context.Background())
	if err == nil {
		t.Error("expected timeout error")
	}

	cancel()
}

func TestUDSServer_MultipleConnections(t *testing.T) {
	tmpDir := t.TempDir()
	socketPath := filepath.Join(tmpDir, "test-multi.sock")

	handler := newTestServerHandler(t)
	server := NewUDSServer(socketPath, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go server.Start(ctx)
	time.Sleep(100 * time.Millisecond)

	clients := make([]*UDSClient, 5)
	for i := 0; i < 5; i++ {
		clients[i] = NewUDSClient(socketPath, 5*time.Second)
	}

	errCh := make(chan error, 5)
	for i := 0; i < 5; i++ {
		go func(client *UDSClient) {
			_, err := client.Status(context.Background())
			errCh <- err
		}(clients[i])
	}

	for i := 0; i < 5; i++ {
		if err := <-errCh; err != nil {
			t.Errorf("client %d failed: %v", i, err)
		}
	}

	cancel()
}

func TestUDSClient_ConvenienceMethods(t *testing.T) {
	tmpDir := t.TempDir()
	socketPath := filepath.Join(tmpDir, "test-convenience.sock")

	handler := newTestServerHandler(t)
	server := NewUDSServer(socketPath, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go server.Start(ctx)
	time.Sleep(100 * time.Millisecond)

	client := NewUDSClient(socketPath, 5*time.Second)

	tests := []struct {
		name string
		fn   func() (*Response, error)
	}{
		{name: "Status", fn: func() (*Response, error) { return client.Status(context.Background()) }},
		{name: "Stats", fn: func() (*Response, error) { return client.Stats(context.Background()) }},
		{name: "ConfigReload", fn: func() (*Response, error) { return client.ConfigReload(context.Background()) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := tt.fn()
			if err != nil {
				t.Fatalf("%s failed: %v", tt.name, err)
			}
			_ = resp
		})
	}

	cancel()
}

func TestNewUDSClient_DefaultTimeout(t *testing.T) {
	client := NewUDSClient("/tmp/test.sock", 0)
	if client.timeout != 10*time.Second {
		t.Errorf("default timeout = %v, want 10s", client.timeout)
	}

	client2 := NewUDSClient("/tmp/test.sock", 5*time.Second)
	if client2.timeout != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", client2.timeout)
	}
}
