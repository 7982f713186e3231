package region

import (
	"github.com/Electrk/dso-sharp/internal/cfg"
	"github.com/Electrk/dso-sharp/internal/dsoaddr"
)

// VirtualRegion is a node of the structural analyzer's output tree: a
// closed tagged union, per the package's marker-method idiom rather than a
// class hierarchy (§9).
type VirtualRegion interface {
	isRegion()
}

// Instruction wraps a single basic block that carries no further structure.
type Instruction struct {
	Block *cfg.ControlFlowNode
}

// LoopFooter wraps the trailing block that closes a loop. It is kept
// distinct from Instruction in the region tree; the AST lift simulates its
// instructions exactly as it does an Instruction's.
type LoopFooter struct {
	Block *cfg.ControlFlowNode
}

// Sequence is a flattened, ordered list of regions executed one after
// another. Sequence never nests directly inside another Sequence: Append
// splices a Sequence operand's body into the caller instead of wrapping it.
type Sequence struct {
	Body []VirtualRegion
}

// Function wraps a function body's reduced region tree under its
// declaration header.
type Function struct {
	Header *cfg.ControlFlowNode
	Body   VirtualRegion
}

// Conditional is an if/else collapse: Head is the block whose last
// instruction branches, Then and Else are the arms (Else is nil for a
// one-armed if).
type Conditional struct {
	Head     *cfg.ControlFlowNode
	Inverted bool
	Then     VirtualRegion
	Else     VirtualRegion
}

// Loop is a collapsed natural loop (or self-loop). Infinite is set when the
// latch block (for a self-loop, the block itself) has a single successor
// or ends in an unconditional branch (§4.4's infinite-loop rule). The AST
// lift chooses the printed loop test from the body's shape and does not
// read Infinite.
type Loop struct {
	Infinite bool
	Body     VirtualRegion
}

// ConditionalGoto is a refinement artifact (§4.4's "last resort"): a
// branch that could not be collapsed into a Conditional and is instead
// lifted as an explicit conditional jump to Target.
type ConditionalGoto struct {
	Head     *cfg.ControlFlowNode
	Inverted bool
	Target   dsoaddr.Addr
}

// Goto is a refinement artifact: an unconditional jump to Target that
// survived reduction because its region was irreducible.
type Goto struct {
	Target dsoaddr.Addr
}

// Break exits the nearest enclosing Loop.
type Break struct{}

// Continue jumps to the nearest enclosing Loop's footer.
type Continue struct{}

func (Instruction) isRegion()     {}
func (LoopFooter) isRegion()      {}
func (Sequence) isRegion()        {}
func (Function) isRegion()        {}
func (Conditional) isRegion()     {}
func (Loop) isRegion()            {}
func (ConditionalGoto) isRegion() {}
func (Goto) isRegion()            {}
func (Break) isRegion()           {}
func (Continue) isRegion()        {}

// Append adds r to body, splicing r's own elements in directly if r is
// itself a Sequence, so that Sequence never nests inside Sequence.
func Append(body []VirtualRegion, r VirtualRegion) []VirtualRegion {
	if seq, ok := r.(Sequence); ok {
		return append(body, seq.Body...)
	}
	return append(body, r)
}

// AsSequence wraps regions in a Sequence, flattening any Sequence operands
// and collapsing a single-element result down to that element (a Sequence
// of one region carries no structural information of its own).
func AsSequence(regions ...VirtualRegion) VirtualRegion {
	var body []VirtualRegion
	for _, r := range regions {
		body = Append(body, r)
	}
	if len(body) == 1 {
		return body[0]
	}
	return Sequence{Body: body}
}
