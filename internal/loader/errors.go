package loader

import "github.com/pkg/errors"

// ErrFormat is the sentinel wrapped by container-format errors: a bad magic
// number, or a fixup offset outside the code segment (§7). A truncated
// section is reported as the underlying read error (io.EOF or
// io.ErrUnexpectedEOF) with a stack, not as ErrFormat.
var ErrFormat = errors.New("dso: format error")

// formatErrorf wraps ErrFormat with a formatted message and a stack trace,
// so callers can both errors.Is(err, ErrFormat) and print "%+v" for a trace.
func formatErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrFormat, format, args...)
}
