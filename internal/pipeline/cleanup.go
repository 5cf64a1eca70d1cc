// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package pipeline

import (
	"context"
	"sync"

	"github.com/specialistvlad/hilrunner/internal/ctxlog"
)

type cleanup struct {
	name string
	fn   func(context.Context) error
	once sync.Once
}

// cleanupStack runs registered cleanups in reverse order of registration.
type cleanupStack struct {
	mu    sync.Mutex
	stack []*cleanup
}

func (s *cleanupStack) push(name string, fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stack = append(s.stack, &cleanup{name: name, fn: fn})
}

// run executes every cleanup once, newest first. Errors are logged and never
// stop the remaining cleanups.
func (s *cleanupStack) run(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	s.mu.Lock()
	stack := s.stack
	s.stack = nil
	s.mu.Unlock()

	logger.Debug("Executing cleanup stack.", "count", len(stack))
	for i := len(stack) - 1; i >= 0; i-- {
		c := stack[i]
		c.once.Do(func() {
			logger.Info("🔥 Cleaning up", "step", c.name)
			if err := c.fn(ctx); err != nil {
				logger.Error("Cleanup failed", "step", c.name, "error", err)
			}
		})
	}
}
