package sync

import "arcgo/kernel/cpu"

var (
	// disableInterruptsFn, enableInterruptsFn and interruptsEnabledFn are
	// mocked by tests and are automatically inlined by the compiler.
	disableInterruptsFn = cpu.DisableInterrupts
	enableInterruptsFn  = cpu.EnableInterrupts
	interruptsEnabledFn = cpu.InterruptsEnabled
)

// IntrLock masks interrupts on the current CPU and returns a token
// recording whether interrupts were enabled beforehand. Callers must pass
// the token to a matching IntrUnlock call so that nested IntrLock/IntrUnlock
// pairs restore the correct prior state rather than unconditionally
// re-enabling interrupts. IntrLock must always be acquired before any lock
// that may also be taken from an interrupt handler, so that a handler
// running on the same CPU cannot re-enter the lock and deadlock.
func IntrLock() (wasEnabled bool) {
	wasEnabled = interruptsEnabledFn()
	disableInterruptsFn()
	return wasEnabled
}

// IntrUnlock restores the interrupt state captured by the matching IntrLock
// call.
func IntrUnlock(wasEnabled bool) {
	if wasEnabled {
		enableInterruptsFn()
	}
}
