package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTransport_StreamsLines(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		flusher := w.(http.Flusher)
		for i := 1; i <= 3; i++ {
			fmt.Fprintf(w, `{"seq":%d}`+"\n", i)
			flusher.Flush()
		}
	}))
	defer server.Close()

	cfg := DefaultTransportConfig()
	cfg.URL = server.URL
	cfg.Token = "test-token"
	transport := NewTransport(cfg, nil)
	defer transport.Close()

	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	for i := 1; i <= 3; i++ {
		select {
		case line := <-transport.Lines():
			want := fmt.Sprintf(`{"seq":%d}`, i)
			if string(line.Data) != want {
				t.Errorf("line %d = %s, want %s", i, line.Data, want)
			}
			if line.ReceivedAt.IsZero() {
				t.Error("line missing receive timestamp")
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for line %d", i)
		}
	}

	// Server closed the body: the stream end surfaces as a transient error.
	select {
	case err := <-transport.Errors():
		var transient *TransientError
		if !errors.As(err, &transient) {
			t.Errorf("stream end error = %v, want *TransientError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error after server closed the stream")
	}
}

func TestTransport_AuthStatusIsFatal(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		cfg := DefaultTransportConfig()
		cfg.URL = server.URL
		transport := NewTransport(cfg, nil)

		err := transport.Connect(context.Background())
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			t.Errorf("status %d: Connect returned %v, want *AuthError", status, err)
		} else if authErr.StatusCode != status {
			t.Errorf("AuthError.StatusCode = %d, want %d", authErr.StatusCode, status)
		}

		transport.Close()
		server.Close()
	}
}

func TestTransport_ServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := DefaultTransportConfig()
	cfg.URL = server.URL
	transport := NewTransport(cfg, nil)
	defer transport.Close()

	err := transport.Connect(context.Background())
	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("Connect returned %v, want *TransientError", err)
	}
}

func TestTransport_IdleTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprintln(w, `{"seq":1}`)
		flusher.Flush()
		<-r.Context().Done() // Go silent until the client gives up.
	}))
	defer server.Close()

	cfg := DefaultTransportConfig()
	cfg.URL = server.URL
	cfg.IdleTimeout = 300 * time.Millisecond
	transport := NewTransport(cfg, nil)
	defer transport.Close()

	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	<-transport.Lines()

	select {
	case err := <-transport.Errors():
		if !errors.Is(err, ErrStreamTimeout) {
			t.Errorf("error = %v, want ErrStreamTimeout", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("idle timeout never fired")
	}
}

func TestTransport_CloseIsIdempotentAndAbortsRead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprintln(w, `{"seq":1}`)
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	cfg := DefaultTransportConfig()
	cfg.URL = server.URL
	transport := NewTransport(cfg, nil)

	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	<-transport.Lines()

	if err := transport.Close(); err != nil {
		t.Errorf("Close returned %v", err)
	}
	if err := transport.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}

	// The read loop must exit and close the line channel.
	select {
	case _, ok := <-transport.Lines():
		if ok {
			t.Error("received a line after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("line channel not closed after Close")
	}

	if err := transport.Connect(context.Background()); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("Connect after Close returned %v, want ErrAlreadyClosed", err)
	}
}
