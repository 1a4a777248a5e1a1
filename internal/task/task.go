// Package task manages the goroutines owned by a bridge client.
package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-icona/logger"
)

// startTimeout bounds how long Start waits for a goroutine to report it is running.
const startTimeout = 5 * time.Second

// Func performs one iteration of a task. It returns true to keep running, false to stop.
type Func func() bool

// CancelFunc is called once when a task goroutine exits, whatever the reason.
type CancelFunc func()

// Manager starts, stops and waits for task goroutines.
//
// Every task runs in a loop until its Func returns false, it panics, or Stop cancels the manager
// context. After Wait returns the manager can start tasks again.
//
// Example Usage:
//
//	taskMgr := task.NewManager(ctx, logger)
//	_ = taskMgr.Start("receiverTask", func() bool {
//	    // ... one receive ...
//	    return true
//	}, nil)
//
//	taskMgr.Stop()
//	taskMgr.Wait()
type Manager struct {
	pctx   context.Context
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32
	mu     sync.RWMutex // protect ctx and cancel
}

// NewManager creates a Manager whose tasks stop when ctx is done.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	mgr := &Manager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

func (mgr *Manager) context() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start runs taskFunc in a new goroutine until it returns false or the manager stops.
// cancelFunc, if not nil, runs when the goroutine exits.
func (mgr *Manager) Start(name string, taskFunc Func, cancelFunc CancelFunc) error {
	ctx := mgr.context()
	if ctx.Err() != nil {
		return fmt.Errorf("task manager stopped, can't start %s", name)
	}

	mgr.logger.Debug("start task", "name", name)

	started := make(chan struct{})
	mgr.wg.Add(1)
	go func() {
		defer mgr.wg.Done()

		mgr.count.Add(1)
		defer func() {
			mgr.count.Add(-1)
			mgr.logger.Debug("task terminated", "name", name, "task_count", mgr.Count())
		}()

		if cancelFunc != nil {
			defer cancelFunc()
		}

		close(started)
		mgr.runLoop(ctx, name, taskFunc)
	}()

	select {
	case <-started:
		return nil
	case <-time.After(startTimeout):
		return fmt.Errorf("timeout waiting for %s to start", name)
	}
}

// Stop signals every running task to exit after its current iteration.
func (mgr *Manager) Stop() {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.cancel != nil {
		mgr.cancel()
	}
}

// Wait blocks until every task has exited, then rearms the manager.
func (mgr *Manager) Wait() {
	mgr.wg.Wait()

	mgr.mu.Lock()
	if mgr.ctx.Err() != nil {
		mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	}
	mgr.mu.Unlock()
}

// Count returns the number of running tasks.
func (mgr *Manager) Count() int {
	return int(mgr.count.Load())
}

func (mgr *Manager) runLoop(ctx context.Context, name string, taskFunc Func) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if !taskFunc() {
				return
			}
		}
	}
}
