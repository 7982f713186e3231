package cfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Electrk/dso-sharp/internal/disasm"
	"github.com/Electrk/dso-sharp/internal/opcode"
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

func TestBuildSelfLoop(t *testing.T) {
	fd := &fakeFileData{code: []uint32{uint32(opcode.OpJmp), 0}}
	d, err := disasm.Disassemble(fd)
	require.NoError(t, err)

	cfgs, err := Build(d)
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	g := cfgs[0]
	require.Len(t, g.Nodes, 1)
	node := g.Node(g.Entry)
	require.NotNil(t, node)
	require.Len(t, node.Succ, 1)
	assert.Equal(t, node.Addr, node.Succ[0])
	require.Len(t, node.Pred, 1)
	assert.Equal(t, node.Addr, node.Pred[0])
}

func TestBuildIfThenElse(t *testing.T) {
	// Word-indexed instruction addresses (operand widths matter: JmpIfNot
	// and Jmp are each 2 words):
	// 0: CMPEQ             (Binary)
	// 1: JMPIFNOT 6        (branch to E; occupies words 1-2)
	// 3: PUSH              (then body A)
	// 4: JMP 7             (branch to J; occupies words 4-5)
	// 6: PUSH              (else body B)  <- E
	// 7: RETURN            <- J
	code := []uint32{
		uint32(opcode.OpCmpEq),
		uint32(opcode.OpJmpIfNot), 6,
		uint32(opcode.OpPush),
		uint32(opcode.OpJmp), 7,
		uint32(opcode.OpPush),
		uint32(opcode.OpReturn),
	}
	fd := &fakeFileData{code: code}
	d, err := disasm.Disassemble(fd)
	require.NoError(t, err)

	cfgs, err := Build(d)
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	g := cfgs[0]
	// Expect 4 blocks, by instruction address: {0,1}, {3,4}, {6}, {7}
	assert.Len(t, g.Nodes, 4)
}

func TestBuildFunctionBodyGetsOwnCFG(t *testing.T) {
	// 0: FUNC_DECL name hasBody=true end=8 argc=0
	// (words: op,name,ns,pkg,hasBody,end,argc) = 7 words -> addr 0..6, body starts at 7
	code := []uint32{
		uint32(opcode.OpFuncDecl), 0, 0, 0, 1, 8, 0,
		uint32(opcode.OpReturn), // addr 7
		uint32(opcode.OpReturn), // addr 8: main script resumes here
	}
	fd := &fakeFileData{code: code, idents: map[uint32]string{1: "foo"}}
	d, err := disasm.Disassemble(fd)
	require.NoError(t, err)

	cfgs, err := Build(d)
	require.NoError(t, err)
	// One main CFG (just addr 8) and one function CFG (addr 0..7).
	require.Len(t, cfgs, 2)

	var mainCFG, fnCFG *CFG
	for _, g := range cfgs {
		if g.Node(g.Entry).IsFunction {
			fnCFG = g
		} else {
			mainCFG = g
		}
	}
	require.NotNil(t, fnCFG)
	require.NotNil(t, mainCFG)
	assert.Equal(t, uint32(0), uint32(fnCFG.Entry))
	assert.Equal(t, uint32(8), uint32(mainCFG.Entry))
}
