// Package watcher следит за каталогом конфигов WireGuard и превращает
// всплески файловых событий в одиночные запросы синхронизации.
package watcher

import (
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"wgmirror/internal/logs"
)

// Watcher наблюдает за <dir>/*.conf. Серия событий в пределах окна
// debounce сворачивается в один вызов trigger.
type Watcher struct {
	dir      string
	debounce time.Duration
	trigger  func()

	fsw *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer

	done chan struct{}
	wg   sync.WaitGroup
}

func New(dir string, debounce time.Duration, trigger func()) *Watcher {
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		trigger:  trigger,
		done:     make(chan struct{}),
	}
}

// Start запускает наблюдение. Ошибка — каталог недоступен или inotify
// не поднялся; сервис решает сам, жить ли без файловых триггеров.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return err
	}
	w.fsw = fsw

	w.wg.Add(1)
	go w.loop()
	logs.Logger.Infof("file monitoring started for %s", w.dir)
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event.Name, event.Op)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logs.Logger.Errorf("file watcher error: %v", err)
		}
	}
}

// handle (пере)заводит debounce-таймер на create/write/rename .conf-файла.
// Редакторы с атомарной записью генерируют rename вместо write.
func (w *Watcher) handle(name string, op fsnotify.Op) {
	if !strings.HasSuffix(name, ".conf") {
		return
	}
	if op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return
	}
	logs.Logger.Infof("config change detected: %s (%s)", name, op)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		logs.Logger.Info("debounce window elapsed, requesting sync")
		w.trigger()
	})
}

// Stop гасит debounce-таймер и наблюдение. Таймер принадлежит только
// watcher-у и после Stop уже не сработает.
func (w *Watcher) Stop() {
	close(w.done)
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	w.wg.Wait()
}
