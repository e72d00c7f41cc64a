package sync

import (
	"context"
	"time"

	"github.com/palaver-chat/palaver/internal/config"
	"go.uber.org/zap"
)

// Worker periodically reconciles pending conversations: creating the ones
// that gained messages and garbage-collecting the ones that never did.
type Worker struct {
	engine *Engine
	cfg    *config.Config
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewWorker creates a pending-conversation worker for one engine.
func NewWorker(engine *Engine, cfg *config.Config, logger *zap.Logger) *Worker {
	return &Worker{
		engine: engine,
		cfg:    cfg,
		logger: logger,
	}
}

// Start begins the periodic sweep.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)
}

// Stop stops the sweep loop.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *Worker) loop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(w.cfg.PendingSweepIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	if n := w.engine.CreatePendingConversations(ctx); n > 0 {
		w.logger.Info("pending conversations confirmed", zap.Int("count", n))
	}
	if err := w.engine.CleanupPendingConversations(); err != nil {
		w.logger.Error("pending conversation cleanup failed", zap.Error(err))
	}
}
