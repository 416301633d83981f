package safe

import (
	"context"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
	"quotestream.com/pkg/logger"
)

// Go runs fn on a new goroutine; a panic is logged instead of killing the process.
func Go(fn func()) {
	go func() {
		defer recoverAndLog(context.Background())
		fn()
	}()
}

// GoCtx is Go with a context, so the panic log line keeps conn_id/request_id.
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		defer recoverAndLog(ctx)
		fn(ctx)
	}()
}

// GoWG is GoCtx tracked by wg; wg.Done runs even when fn panics.
func GoWG(ctx context.Context, wg *sync.WaitGroup, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer recoverAndLog(ctx)
		fn(ctx)
	}()
}

func recoverAndLog(ctx context.Context) {
	if r := recover(); r != nil {
		logger.Error(ctx, "goroutine panic recovered",
			zap.Any("panic", r),
			zap.String("stack", string(debug.Stack())),
		)
	}
}
