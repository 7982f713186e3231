package disasm

import "github.com/pkg/errors"

// ErrFormat is the sentinel wrapped by every disassembly-time format error:
// a truncated code segment, an unknown opcode, an invalid branch target, or
// an invalid string-advance kind (§7).
var ErrFormat = errors.New("dso: format error")

// formatErrorf wraps ErrFormat with a formatted message and a stack trace,
// so callers can both errors.Is(err, ErrFormat) and print "%+v" for a trace.
func formatErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrFormat, format, args...)
}
