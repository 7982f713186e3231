package region

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Electrk/dso-sharp/internal/cfg"
)

func TestAppendFlattensSequence(t *testing.T) {
	a := Instruction{Block: &cfg.ControlFlowNode{}}
	b := Instruction{Block: &cfg.ControlFlowNode{}}
	inner := Sequence{Body: []VirtualRegion{a, b}}

	c := Instruction{Block: &cfg.ControlFlowNode{}}
	body := Append([]VirtualRegion{c}, inner)

	assert.Equal(t, []VirtualRegion{c, a, b}, body, "appending a Sequence must splice its elements, not nest it")
}

func TestAsSequenceCollapsesSingleton(t *testing.T) {
	a := Instruction{Block: &cfg.ControlFlowNode{}}
	got := AsSequence(a)
	assert.Equal(t, a, got, "a Sequence of one region carries no structure and collapses to that region")
}

func TestAsSequenceFlattensNested(t *testing.T) {
	a := Instruction{Block: &cfg.ControlFlowNode{}}
	b := Instruction{Block: &cfg.ControlFlowNode{}}
	c := Instruction{Block: &cfg.ControlFlowNode{}}

	got := AsSequence(a, Sequence{Body: []VirtualRegion{b, c}})
	seq, ok := got.(Sequence)
	if assert.True(t, ok) {
		assert.Equal(t, []VirtualRegion{a, b, c}, seq.Body)
	}
}
