package testserver

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hochfrequenz/bundle-orch/internal/domain"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "index.html"), []byte("<html>mocha</html>"), 0644); err != nil {
		t.Fatal(err)
	}
	return New(Config{Host: "127.0.0.1", Root: root}, zerolog.Nop())
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestController_ServesRootAndMounts(t *testing.T) {
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "api:%s", r.URL.Path)
	})
	c := newTestController(t)
	c.Mount("/__orch/", api)

	h, err := c.Start(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Stop(context.Background(), h)

	if h.State() != domain.ServerRunning {
		t.Errorf("State = %s, want running", h.State())
	}

	base := fmt.Sprintf("http://127.0.0.1:%d", h.Port())

	code, body := get(t, base+"/index.html")
	if code != http.StatusOK || !strings.Contains(body, "mocha") {
		t.Errorf("index.html = %d %q", code, body)
	}

	code, body = get(t, base+"/__orch/status")
	if code != http.StatusOK || body != "api:/status" {
		t.Errorf("mount = %d %q", code, body)
	}
}

func TestController_StopIsIdempotent(t *testing.T) {
	c := newTestController(t)

	h, err := c.Start(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := c.Stop(context.Background(), h); err != nil {
			t.Fatalf("Stop #%d: %v", i+1, err)
		}
	}
	if h.State() != domain.ServerStopped {
		t.Errorf("State = %s, want stopped", h.State())
	}
	if len(c.Running()) != 0 {
		t.Errorf("Running = %v, want none", c.Running())
	}

	// Port is free again
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", h.Port()))
	if err != nil {
		t.Fatalf("port not released: %v", err)
	}
	l.Close()
}

func TestController_RestartOnSamePort(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	c := newTestController(t)
	for i := 0; i < 50; i++ {
		h, err := c.Start(context.Background(), port)
		if err != nil {
			t.Fatalf("Start #%d: %v", i+1, err)
		}
		if err := c.Stop(context.Background(), h); err != nil {
			t.Fatalf("Stop #%d: %v", i+1, err)
		}
	}
}

func TestController_StopWithoutStart(t *testing.T) {
	c := newTestController(t)

	if err := c.Stop(context.Background(), nil); err != nil {
		t.Errorf("Stop(nil) = %v", err)
	}
	var h *Handle
	if err := c.Stop(context.Background(), h); err != nil {
		t.Errorf("Stop(typed nil) = %v", err)
	}
}

func TestController_PortInUse(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port

	c := newTestController(t)
	h, err := c.Start(context.Background(), port)
	if err == nil {
		c.Stop(context.Background(), h)
		t.Fatal("expected bind error")
	}
	if !strings.Contains(err.Error(), fmt.Sprintf("port %d", port)) {
		t.Errorf("err = %v", err)
	}
}

func TestController_OneHandlePerPort(t *testing.T) {
	c := newTestController(t)

	h, err := c.Start(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Stop(context.Background(), h)

	if _, err := c.Start(context.Background(), h.Port()); err == nil ||
		!strings.Contains(err.Error(), "already running") {
		t.Errorf("second Start err = %v, want already running", err)
	}
}

func TestController_RunsShutdownHooks(t *testing.T) {
	calls := make(chan struct{}, 1)
	c := New(Config{
		Host:       "127.0.0.1",
		Root:       t.TempDir(),
		OnShutdown: []func(){func() { calls <- struct{}{} }},
	}, zerolog.Nop())

	h, err := c.Start(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Stop(context.Background(), h); err != nil {
		t.Fatal(err)
	}

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown hook not called")
	}
}
