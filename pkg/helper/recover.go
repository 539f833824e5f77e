package helper

import (
	"fmt"
	"runtime/debug"

	"github.com/CloudNativeWorks/relfetch/pkg/logger"
)

// RecoverPanic recovers from a panic, logs the stack trace and, when errp is
// non-nil, turns the panic into the caller's returned error.
// Usage: defer helper.RecoverPanic(logger, "command-name", &err)
func RecoverPanic(log *logger.Logger, name string, errp *error) {
	if r := recover(); r != nil {
		log.Errorf("PANIC recovered in %s: %v\nStack: %s", name, r, debug.Stack())
		if errp != nil {
			*errp = fmt.Errorf("internal error in %s: %v", name, r)
		}
	}
}
