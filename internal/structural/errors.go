package structural

import "github.com/pkg/errors"

// ErrStructural is the sentinel for control-flow shapes the analyzer
// cannot legally process: a node with more than two successors, or a
// cyclic block that does not end in a branch (§7).
var ErrStructural = errors.New("dso: structural error")

func structuralErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrStructural, format, args...)
}
