package disasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Electrk/dso-sharp/internal/dsoaddr"
	"github.com/Electrk/dso-sharp/internal/opcode"
)

// fakeFileData is a minimal in-memory FileData for exercising the
// disassembler without the full loader/container format.
type fakeFileData struct {
	code    []uint32
	idents  map[uint32]string
	strings map[uint32]string
	floats  map[uint32]float64
}

func (f *fakeFileData) CodeSize() uint32   { return uint32(len(f.code)) }
func (f *fakeFileData) Op(at uint32) uint32 { return f.code[at] }
func (f *fakeFileData) Identifier(at, raw uint32) (string, bool) {
	name, ok := f.idents[at]
	return name, ok
}
func (f *fakeFileData) StringTable(raw uint32) string   { return f.strings[raw] }
func (f *fakeFileData) FloatTable(raw uint32) float64   { return f.floats[raw] }

func TestDisassembleEmptyScript(t *testing.T) {
	d, err := Disassemble(&fakeFileData{})
	require.NoError(t, err)
	assert.Empty(t, d.ByAddr)
	assert.Empty(t, d.Order)
}

func TestDisassembleUnconditionalJumpLoop(t *testing.T) {
	// OP_JMP 0 at address 0: a one-instruction self-loop.
	fd := &fakeFileData{code: []uint32{uint32(opcode.OpJmp), 0}}
	d, err := Disassemble(fd)
	require.NoError(t, err)
	require.Len(t, d.Order, 1)

	inst := d.At(dsoaddr.Addr(0))
	require.NotNil(t, inst)
	assert.True(t, inst.IsBranchTarget, "self-loop target must be marked")
	b, ok := inst.Data.(Branch)
	require.True(t, ok)
	assert.Equal(t, dsoaddr.Addr(0), b.TargetAddr)
	assert.Equal(t, opcode.BranchJmp, b.Kind)
}

func TestDisassembleUnknownOpcodeIsFatal(t *testing.T) {
	fd := &fakeFileData{code: []uint32{0xFFFFFFFF}}
	_, err := Disassemble(fd)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestDisassembleBranchToMissingTargetIsFatal(t *testing.T) {
	// OP_JMP to an address that is never decoded.
	fd := &fakeFileData{code: []uint32{uint32(opcode.OpJmp), 40}}
	_, err := Disassemble(fd)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestReturnValueFlagTracksPrecedingLoad(t *testing.T) {
	// LOADIMMED_UINT 7; RETURN -- the return should carry returns_value=true.
	fd := &fakeFileData{code: []uint32{
		uint32(opcode.OpLoadImmedUint), 7,
		uint32(opcode.OpReturn),
	}}
	d, err := Disassemble(fd)
	require.NoError(t, err)

	ret := d.At(dsoaddr.Addr(2))
	require.NotNil(t, ret)
	r, ok := ret.Data.(Return)
	require.True(t, ok)
	assert.True(t, r.ReturnsValue)
}

func TestReturnValueFlagClearedByConvertToNone(t *testing.T) {
	fd := &fakeFileData{code: []uint32{
		uint32(opcode.OpLoadImmedUint), 7,
		uint32(opcode.OpConvertToNone),
		uint32(opcode.OpReturn),
	}}
	d, err := Disassemble(fd)
	require.NoError(t, err)

	ret := d.At(dsoaddr.Addr(3))
	require.NotNil(t, ret)
	r, ok := ret.Data.(Return)
	require.True(t, ok)
	assert.False(t, r.ReturnsValue)
}

func TestFunctionDeclDecodesArgsAndEndAddr(t *testing.T) {
	fd := &fakeFileData{
		code: []uint32{
			uint32(opcode.OpFuncDecl), 0, 0, 0, 1 /* hasBody */, 10 /* endAddr */, 2, /* argc */
			0, 0, /* two ident words */
			uint32(opcode.OpReturn),
		},
		idents: map[uint32]string{1: "foo", 2: "", 3: "", 7: "%a", 8: "%b"},
	}
	d, err := Disassemble(fd)
	require.NoError(t, err)
	inst := d.At(0)
	require.NotNil(t, inst)
	fn, ok := inst.Data.(FunctionDecl)
	require.True(t, ok)
	assert.Equal(t, "foo", fn.Name)
	assert.True(t, fn.HasBody)
	assert.Equal(t, dsoaddr.Addr(10), fn.EndAddr)
	assert.Equal(t, []string{"%a", "%b"}, fn.Args)
}

func TestDisassembleTruncatedOperandsIsFatal(t *testing.T) {
	// OP_FUNC_DECL as the last word, with none of its trailing operand
	// words present.
	fd := &fakeFileData{code: []uint32{uint32(opcode.OpFuncDecl)}}
	_, err := Disassemble(fd)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestUnusedOpcodePreserved(t *testing.T) {
	fd := &fakeFileData{code: []uint32{uint32(opcode.OpUnused1)}}
	d, err := Disassemble(fd)
	require.NoError(t, err)
	inst := d.At(0)
	require.NotNil(t, inst)
	_, ok := inst.Data.(Unused)
	assert.True(t, ok)
}
