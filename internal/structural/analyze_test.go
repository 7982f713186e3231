package structural

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "github.com/Electrk/dso-sharp/internal/cfg"
	"github.com/Electrk/dso-sharp/internal/disasm"
	"github.com/Electrk/dso-sharp/internal/dsoaddr"
	"github.com/Electrk/dso-sharp/internal/opcode"
	"github.com/Electrk/dso-sharp/internal/region"
)

type fakeFileData struct {
	code    []uint32
	idents  map[uint32]string
	strings map[uint32]string
	floats  map[uint32]float64
}

func (f *fakeFileData) CodeSize() uint32    { return uint32(len(f.code)) }
func (f *fakeFileData) Op(at uint32) uint32 { return f.code[at] }
func (f *fakeFileData) Identifier(at, raw uint32) (string, bool) {
	name, ok := f.idents[at]
	return name, ok
}
func (f *fakeFileData) StringTable(raw uint32) string { return f.strings[raw] }
func (f *fakeFileData) FloatTable(raw uint32) float64 { return f.floats[raw] }

func buildSingleCFG(t *testing.T, code []uint32) *cfgpkg.CFG {
	t.Helper()
	fd := &fakeFileData{code: code}
	d, err := disasm.Disassemble(fd)
	require.NoError(t, err)
	cfgs, err := cfgpkg.Build(d)
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	return cfgs[0]
}

func TestAnalyzeSelfLoopIsInfiniteLoop(t *testing.T) {
	c := buildSingleCFG(t, []uint32{uint32(opcode.OpJmp), 0})
	vr, err := Analyze(c)
	require.NoError(t, err)

	loop, ok := vr.(region.Loop)
	require.True(t, ok, "expected a Loop region, got %T", vr)
	assert.True(t, loop.Infinite)
}

func TestAnalyzeIfThen(t *testing.T) {
	// 0: CMPEQ
	// 1: JMPIFNOT 4   (skip the then-body when false)
	// 3: PUSH          <- then body
	// 4: RETURN         <- join
	code := []uint32{
		uint32(opcode.OpCmpEq),
		uint32(opcode.OpJmpIfNot), 4,
		uint32(opcode.OpPush),
		uint32(opcode.OpReturn),
	}
	c := buildSingleCFG(t, code)
	vr, err := Analyze(c)
	require.NoError(t, err)

	seq, ok := vr.(region.Sequence)
	require.True(t, ok, "expected head sequence, got %T", vr)
	require.Len(t, seq.Body, 2)
	cond, ok := seq.Body[0].(region.Conditional)
	require.True(t, ok, "expected a Conditional first, got %T", seq.Body[0])
	assert.Nil(t, cond.Else)
	assert.True(t, cond.Inverted)
}

func TestAnalyzeIfThenElse(t *testing.T) {
	// 0: CMPEQ
	// 1: JMPIFNOT 6   -> else
	// 3: PUSH          <- then
	// 4: JMP 7         -> join
	// 6: PUSH          <- else
	// 7: RETURN         <- join
	code := []uint32{
		uint32(opcode.OpCmpEq),
		uint32(opcode.OpJmpIfNot), 6,
		uint32(opcode.OpPush),
		uint32(opcode.OpJmp), 7,
		uint32(opcode.OpPush),
		uint32(opcode.OpReturn),
	}
	c := buildSingleCFG(t, code)
	vr, err := Analyze(c)
	require.NoError(t, err)

	seq, ok := vr.(region.Sequence)
	require.True(t, ok, "expected head sequence, got %T", vr)
	cond, ok := seq.Body[0].(region.Conditional)
	require.True(t, ok, "expected a Conditional first, got %T", seq.Body[0])
	assert.NotNil(t, cond.Then)
	assert.NotNil(t, cond.Else)
}

func TestAnalyzeWhileLoop(t *testing.T) {
	// 0: H: CMPLT
	// 1: JMPIFNOT 6      -> exit
	// 3: PUSH             (body)
	// 4: JMP 0            -> back to H
	// 6: RETURN           <- exit
	code := []uint32{
		uint32(opcode.OpCmpLT),
		uint32(opcode.OpJmpIfNot), 6,
		uint32(opcode.OpPush),
		uint32(opcode.OpJmp), 0,
		uint32(opcode.OpReturn),
	}
	c := buildSingleCFG(t, code)
	vr, err := Analyze(c)
	require.NoError(t, err)

	seq, ok := vr.(region.Sequence)
	require.True(t, ok, "expected head sequence, got %T", vr)
	loop, ok := seq.Body[0].(region.Loop)
	require.True(t, ok, "expected a Loop first, got %T", seq.Body[0])
	assert.False(t, loop.Infinite)
}

func TestAnalyzeFunctionDeclWrapsBody(t *testing.T) {
	code := []uint32{
		uint32(opcode.OpFuncDecl), 0, 0, 0, 1, 8, 0, // addr 0..6, end=8
		uint32(opcode.OpReturn), // addr 7
		uint32(opcode.OpReturn), // addr 8: main resumes here
	}
	fd := &fakeFileData{code: code, idents: map[uint32]string{1: "foo"}}
	d, err := disasm.Disassemble(fd)
	require.NoError(t, err)
	cfgs, err := cfgpkg.Build(d)
	require.NoError(t, err)
	require.Len(t, cfgs, 2)

	var fnCFG *cfgpkg.CFG
	for _, g := range cfgs {
		if g.Node(g.Entry).IsFunction {
			fnCFG = g
		}
	}
	require.NotNil(t, fnCFG)

	vr, err := Analyze(fnCFG)
	require.NoError(t, err)
	fn, ok := vr.(region.Function)
	require.True(t, ok, "expected a Function region, got %T", vr)
	assert.Equal(t, uint32(0), uint32(fn.Header.Addr))
}

// buildCFG constructs a raw cfg.CFG from block literals, for shapes (like
// the irreducible diamond) that are awkward to express as linear bytecode.
func buildCFG(entry dsoaddr.Addr, blocks map[dsoaddr.Addr]*cfgpkg.ControlFlowNode) *cfgpkg.CFG {
	nodes := make(map[dsoaddr.Addr]*cfgpkg.ControlFlowNode, len(blocks))
	for addr, b := range blocks {
		nodes[addr] = b
	}
	return &cfgpkg.CFG{Entry: entry, Nodes: nodes}
}

func branchInst(addr, target dsoaddr.Addr, kind opcode.BranchKind) *disasm.Instruction {
	return &disasm.Instruction{Addr: addr, Opcode: opcode.OpJmpIfNot, Data: disasm.Branch{TargetAddr: target, Kind: kind}}
}

func jmpInst(addr, target dsoaddr.Addr) *disasm.Instruction {
	return &disasm.Instruction{Addr: addr, Opcode: opcode.OpJmp, Data: disasm.Branch{TargetAddr: target, Kind: opcode.BranchJmp}}
}

func plainInst(addr dsoaddr.Addr) *disasm.Instruction {
	return &disasm.Instruction{Addr: addr, Opcode: opcode.OpPush, Data: disasm.Push{}}
}

func returnInst(addr dsoaddr.Addr) *disasm.Instruction {
	return &disasm.Instruction{Addr: addr, Opcode: opcode.OpReturn, Data: disasm.Return{}}
}

// TestAnalyzeIrreducibleDiamondRefines builds a loop with two distinct
// back-edges into different nodes of the same natural loop (a classic
// irreducible shape) and asserts the analyzer terminates, producing at
// least one synthesized Goto rather than looping or erroring (§8,
// scenario 7).
func TestAnalyzeIrreducibleDiamondRefines(t *testing.T) {
	// 0 (entry) -> 1, 2
	// 1 -> 2   (cross edge into the other branch)
	// 2 -> 1   (cross edge back)
	// 1 -> 3, 2 -> 3 (both exit to 3)
	// 3: RETURN
	blocks := map[dsoaddr.Addr]*cfgpkg.ControlFlowNode{
		0: {Addr: 0, Insts: []*disasm.Instruction{branchInst(0, 2, opcode.BranchJmpIfNot)}, Succ: dsoaddr.Addrs{2, 1}},
		1: {Addr: 1, Insts: []*disasm.Instruction{branchInst(1, 2, opcode.BranchJmpIfNot)}, Succ: dsoaddr.Addrs{2, 3}},
		2: {Addr: 2, Insts: []*disasm.Instruction{branchInst(2, 1, opcode.BranchJmpIfNot)}, Succ: dsoaddr.Addrs{1, 3}},
		3: {Addr: 3, Insts: []*disasm.Instruction{returnInst(3)}},
	}
	blocks[1].Pred = dsoaddr.Addrs{0, 2}
	blocks[2].Pred = dsoaddr.Addrs{0, 1}
	blocks[3].Pred = dsoaddr.Addrs{1, 2}

	c := buildCFG(0, blocks)
	vr, err := Analyze(c)
	require.NoError(t, err)
	assert.True(t, containsGoto(vr), "expected refinement to synthesize at least one Goto")
}

func containsGoto(vr region.VirtualRegion) bool {
	switch r := vr.(type) {
	case region.Goto, region.ConditionalGoto:
		return true
	case region.Sequence:
		for _, b := range r.Body {
			if containsGoto(b) {
				return true
			}
		}
	case region.Conditional:
		return containsGoto(r.Then) || (r.Else != nil && containsGoto(r.Else))
	case region.Loop:
		return containsGoto(r.Body)
	case region.Function:
		return containsGoto(r.Body)
	}
	return false
}
