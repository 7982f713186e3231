package opcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindClassification(t *testing.T) {
	assert.Equal(t, KindFuncDecl, OpFuncDecl.Kind())
	assert.Equal(t, KindReturn, OpReturn.Kind())
	assert.Equal(t, KindUnused, OpUnused1.Kind())
	assert.Equal(t, KindUnused, OpUnused2.Kind())
	assert.Equal(t, KindOther, OpAdd.Kind())
	for _, op := range []Op{OpJmp, OpJmpIf, OpJmpIff, OpJmpIfNot, OpJmpIffNot, OpJmpIfNP, OpJmpIfNotNP} {
		assert.Equalf(t, KindJump, op.Kind(), "opcode %v", op)
	}
}

func TestBranchKindForNonBranch(t *testing.T) {
	_, ok := BranchKindFor(OpAdd)
	assert.False(t, ok)
}

func TestBranchKindInversionAndPop(t *testing.T) {
	cases := []struct {
		op        Op
		inverted  bool
		pops      bool
		unconditn bool
	}{
		{OpJmp, false, true, true},
		{OpJmpIf, false, true, false},
		{OpJmpIff, false, true, false},
		{OpJmpIfNot, true, true, false},
		{OpJmpIffNot, true, true, false},
		{OpJmpIfNP, false, false, false},
		{OpJmpIfNotNP, true, false, false},
	}
	for _, c := range cases {
		k, ok := BranchKindFor(c.op)
		assert.True(t, ok)
		assert.Equalf(t, c.inverted, k.Inverted(), "opcode %v", c.op)
		assert.Equalf(t, c.pops, k.PopsOperand(), "opcode %v", c.op)
		assert.Equalf(t, c.unconditn, k.Unconditional(), "opcode %v", c.op)
	}
}

func TestConvertTargetFor(t *testing.T) {
	target, ok := ConvertTargetFor(OpConvertToStr)
	assert.True(t, ok)
	assert.Equal(t, ConvertString, target)

	_, ok = ConvertTargetFor(OpAdd)
	assert.False(t, ok)
}

func TestProducesAndClearsValue(t *testing.T) {
	assert.True(t, OpLoadImmedUint.ProducesValue())
	assert.True(t, OpCallFuncFunction.ProducesValue())
	assert.False(t, OpConvertToNone.ProducesValue())
	assert.True(t, OpConvertToNone.ClearsValue())
	assert.False(t, OpAdd.ProducesValue())
}

func TestOpStringKnownAndUnknown(t *testing.T) {
	assert.Equal(t, "OP_FUNC_DECL", OpFuncDecl.String())
	assert.Contains(t, Op(999999).String(), "OP_UNKNOWN")
}
