package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wgmirror/internal/logs"
)

// State — состояние координатора.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Coordinator сериализует все источники триггеров в один конвейер:
// одновременно выполняется не более одной синхронизации, триггер во время
// выполнения сворачивается ровно в один отложенный прогон.
type Coordinator struct {
	run     func(ctx context.Context) error
	cleanup func(ctx context.Context) error

	mu           sync.Mutex
	state        State
	pending      bool
	lastFinished time.Time

	suppressFor time.Duration // окно подавления повторных файловых триггеров

	wg     sync.WaitGroup
	stop   chan struct{}
	stopMu sync.Once
}

func NewCoordinator(run, cleanup func(ctx context.Context) error, suppressFor time.Duration) *Coordinator {
	return &Coordinator{
		run:         run,
		cleanup:     cleanup,
		state:       StateIdle,
		suppressFor: suppressFor,
		stop:        make(chan struct{}),
	}
}

// State возвращает текущее состояние (для /status).
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Request запрашивает синхронизацию. Если прогон уже идёт, запрос
// сворачивается в один отложенный повтор; false — прогон не стартовал
// немедленно.
func (c *Coordinator) Request(source string) bool {
	c.mu.Lock()
	if c.state == StateRunning {
		if !c.pending {
			c.pending = true
			logs.Logger.Infof("sync already running, queued one follow-up (trigger: %s)", source)
		} else {
			logs.Logger.Infof("sync already running and follow-up queued, dropping trigger (%s)", source)
		}
		c.mu.Unlock()
		return false
	}
	c.state = StateRunning
	c.mu.Unlock()

	c.wg.Add(1)
	go c.loop(source)
	return true
}

// RequestDebounced — вариант для файловых событий: синхронизация,
// завершившаяся меньше suppressFor назад, подавляет немедленный повтор,
// чтобы не молотить базу на серии быстрых записей.
func (c *Coordinator) RequestDebounced(source string) bool {
	c.mu.Lock()
	if c.state == StateIdle && !c.lastFinished.IsZero() && time.Since(c.lastFinished) < c.suppressFor {
		logs.Logger.Debugf("suppressing %s trigger: last sync finished %s ago", source, time.Since(c.lastFinished).Round(time.Millisecond))
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()
	return c.Request(source)
}

// loop выполняет прогон и, при наличии отложенного запроса, ровно один
// повтор. Запущенный прогон не отменяется на shutdown: он либо
// завершается, либо падает, но не бросается на середине записи.
func (c *Coordinator) loop(source string) {
	defer c.wg.Done()
	for {
		started := time.Now()
		if err := c.run(context.Background()); err != nil {
			logs.Logger.Errorf("sync failed (trigger: %s): %v", source, err)
		} else {
			logs.Logger.Infof("sync finished in %s (trigger: %s)", time.Since(started).Round(time.Millisecond), source)
		}

		c.mu.Lock()
		c.lastFinished = time.Now()
		if c.pending {
			c.pending = false
			c.mu.Unlock()
			source = "queued-follow-up"
			continue
		}
		c.state = StateIdle
		c.mu.Unlock()
		return
	}
}

// StartPolling запускает периодический триггер (только для polling-режима).
func (c *Coordinator) StartPolling(interval time.Duration) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		logs.Logger.Infof("polling mode: sync every %s", interval)
		for {
			select {
			case <-ticker.C:
				c.Request("poll-timer")
			case <-c.stop:
				return
			}
		}
	}()
}

// StartCleanup запускает ежедневную retention-джобу в заданное время
// суток ("HH:MM"), не связанную с конвейером синхронизации.
func (c *Coordinator) StartCleanup(at string) error {
	next, err := nextOccurrence(at, time.Now())
	if err != nil {
		return err
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		timer := time.NewTimer(time.Until(next))
		defer timer.Stop()
		logs.Logger.Infof("daily cleanup scheduled for %s (next run %s)", at, next.Format(time.RFC3339))
		for {
			select {
			case <-timer.C:
				if err := c.cleanup(context.Background()); err != nil {
					logs.Logger.Errorf("cleanup failed: %v", err)
				}
				n, err := nextOccurrence(at, time.Now())
				if err != nil {
					logs.Logger.Errorf("cleanup reschedule: %v", err)
					return
				}
				timer.Reset(time.Until(n))
			case <-c.stop:
				return
			}
		}
	}()
	return nil
}

// Shutdown останавливает таймеры и дожидается завершения идущего прогона.
func (c *Coordinator) Shutdown() {
	c.stopMu.Do(func() { close(c.stop) })
	c.wg.Wait()
}

// nextOccurrence — ближайший будущий момент "HH:MM" локального времени.
func nextOccurrence(at string, now time.Time) (time.Time, error) {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cleanup time %q: %w", at, err)
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next, nil
}
