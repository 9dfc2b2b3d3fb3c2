package cpu

// EnableInterrupts enables interrupt handling on the current CPU.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling on the current CPU.
func DisableInterrupts()

// InterruptsEnabled reports whether interrupts are currently enabled on the
// current CPU by inspecting the interrupt flag in the RFLAGS register. It is
// used to save the prior interrupt state before an intr_lock-style mask so
// that the matching unlock can restore it rather than unconditionally
// re-enabling interrupts.
func InterruptsEnabled() bool

// Halt stops instruction execution.
func Halt()

// LoadGDT installs the GDT described by gdtrAddr and reloads the code and
// data segment registers to the supplied selectors.
func LoadGDT(gdtrAddr uintptr, codeSelector, dataSelector uint16)

// LoadTaskRegister loads the task register (LTR) with the supplied TSS
// selector.
func LoadTaskRegister(tssSelector uint16)
