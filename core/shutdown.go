package core

import "sync/atomic"

// shutdownFlag is set once a fatal condition is detected. It never clears
// itself; only ResetShutdown (used by host-simulated test harnesses) can.
var shutdownFlag uint32

// shutdownHooks are invoked, in registration order, the first time
// TryShutdown runs. machine.New registers one hook at boot that stops every
// stepper, heater and fan, so that a scheduler-list corruption or
// unrecoverable hardware fault disables them before the reason is reported.
var shutdownHooks []func()

// RegisterShutdownHook adds a callback run once when TryShutdown fires.
func RegisterShutdownHook(hook func()) {
	shutdownHooks = append(shutdownHooks, hook)
}

// TryShutdown declares a fatal condition: every registered hook runs, the
// reason is handed to the debug writer, and IsShutdown latches true.
func TryShutdown(reason string) {
	if !atomic.CompareAndSwapUint32(&shutdownFlag, 0, 1) {
		return
	}
	for _, hook := range shutdownHooks {
		hook()
	}
	DebugPrintln("[SHUTDOWN] " + reason)
}

// IsShutdown reports whether a fatal condition has been latched.
func IsShutdown() bool {
	return atomic.LoadUint32(&shutdownFlag) != 0
}

// ResetShutdown clears the latch and hook list. Intended for test harnesses
// that construct a fresh Machine per test within the same process.
func ResetShutdown() {
	atomic.StoreUint32(&shutdownFlag, 0)
	shutdownHooks = nil
}
