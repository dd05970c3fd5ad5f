package watcher

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestHandleCollapsesBurstIntoOneTrigger(t *testing.T) {
	var fired int32
	w := New(t.TempDir(), 50*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })

	for i := 0; i < 10; i++ {
		w.handle("/etc/wireguard/wg0.conf", fsnotify.Write)
		time.Sleep(2 * time.Millisecond)
	}

	time.Sleep(200 * time.Millisecond)
	if n := atomic.LoadInt32(&fired); n != 1 {
		t.Fatalf("fired %d times, want 1", n)
	}
}

func TestHandleIgnoresUnrelatedFilesAndOps(t *testing.T) {
	var fired int32
	w := New(t.TempDir(), 10*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })

	w.handle("/etc/wireguard/README.md", fsnotify.Write)
	w.handle("/etc/wireguard/wg0.conf.bak", fsnotify.Write)
	w.handle("/etc/wireguard/wg0.conf", fsnotify.Chmod)
	w.handle("/etc/wireguard/wg0.conf", fsnotify.Remove)

	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&fired); n != 0 {
		t.Fatalf("fired %d times, want 0", n)
	}
}

func TestHandleReactsToAtomicRename(t *testing.T) {
	var fired int32
	w := New(t.TempDir(), 10*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })

	w.handle("/etc/wireguard/wg0.conf", fsnotify.Rename)

	time.Sleep(50 * time.Millisecond)
	if n := atomic.LoadInt32(&fired); n != 1 {
		t.Fatalf("fired %d times, want 1", n)
	}
}

func TestStopCancelsPendingTimer(t *testing.T) {
	var fired int32
	w := New(t.TempDir(), 50*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}

	w.handle("/etc/wireguard/wg0.conf", fsnotify.Write)
	w.Stop()

	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&fired); n != 0 {
		t.Fatalf("trigger fired after Stop")
	}
}

func TestStartWatchesRealDirectory(t *testing.T) {
	dir := t.TempDir()
	fired := make(chan struct{}, 1)
	w := New(dir, 20*time.Millisecond, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "wg0.conf"), []byte("[Interface]\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("trigger did not fire after config write")
	}
}

func TestStartFailsOnMissingDirectory(t *testing.T) {
	w := New("/nonexistent/wireguard-dir", time.Millisecond, func() {})
	if err := w.Start(); err == nil {
		t.Fatal("expected error")
	}
}
