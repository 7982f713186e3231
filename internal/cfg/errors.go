package cfg

import "github.com/pkg/errors"

// ErrStructural is the sentinel for CFG-construction structural errors (§7):
// currently, a branch whose target falls outside the CFG region containing
// the branch itself (Torque never legitimately emits this).
var ErrStructural = errors.New("dso: structural error")

func structuralErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrStructural, format, args...)
}
