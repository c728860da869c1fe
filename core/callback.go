package core

import (
	"go.uber.org/zap"
)

// InvokeCallback runs fn and recovers any panic, converting it to an error.
// It never lets a user callback's panic escape into kernel control flow.
// This is the single place (spec.md §9 design notes) policy for
// "log-and-continue on a thrown callback" is defined; every watcher,
// subscriber handler, and health event handler in the kernel and its
// collaborators calls through here instead of wrapping its own
// recover().
func InvokeCallback(log Logger, name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("user callback panicked",
				zap.String("callback", name),
				zap.Any("panic", r),
			)
		}
	}()

	if err := fn(); err != nil {
		log.Warn("user callback returned an error",
			zap.String("callback", name),
			zap.Error(err),
		)
	}
}
