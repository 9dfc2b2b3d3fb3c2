package irq

import "arcgo/kernel"

var (
	errInvalidISALine  = &kernel.Error{Module: "irq", Message: "invalid ISA line"}
	errUnhandledVector = &kernel.Error{Module: "irq", Message: "unhandled interrupt vector"}
)
