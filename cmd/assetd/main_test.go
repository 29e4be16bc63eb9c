package main

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// shortSocketPath keeps unix socket paths under the sun_path limit.
func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "sd")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "notify")
}

func TestNotifySystemd_Unset(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	if err := notifySystemd(); err == nil {
		t.Fatal("expected error without NOTIFY_SOCKET")
	}
}

func TestNotifySystemd_SendsReady(t *testing.T) {
	path := shortSocketPath(t)
	pc, err := net.ListenPacket("unixgram", path)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer pc.Close()
	t.Setenv("NOTIFY_SOCKET", path)

	if err := notifySystemd(); err != nil {
		t.Fatalf("notifySystemd: %v", err)
	}
	buf := make([]byte, 64)
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := string(buf[:n]); got != "READY=1" {
		t.Fatalf("got %q", got)
	}
}

func TestNotifySystemd_DialFailure(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", shortSocketPath(t))
	err := notifySystemd()
	if err == nil || !strings.Contains(err.Error(), "dial failed") {
		t.Fatalf("err = %v, want dial failure", err)
	}
}
