// Package opcode enumerates the DSO bytecode instruction set and classifies
// opcodes by the role they play in disassembly and control-flow analysis.
package opcode

import "fmt"

// Op identifies a single DSO opcode word.
type Op uint32

// The complete DSO opcode set.
const (
	OpFuncDecl Op = iota
	OpCreateObject
	OpAddObject
	OpEndObject

	OpJmp
	OpJmpIf
	OpJmpIff
	OpJmpIfNot
	OpJmpIffNot
	OpJmpIfNP
	OpJmpIfNotNP

	OpReturn

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpBitAnd
	OpBitOr
	OpXor
	OpShl
	OpShr
	OpAnd
	OpOr
	OpCmpEq
	OpCmpGr
	OpCmpGE
	OpCmpLT
	OpCmpLE
	OpCmpNE

	OpNeg
	OpNot
	OpNotF
	OpOnesCompl
	OpCompareStr

	OpSetCurVar
	OpSetCurVarArray
	OpLoadVarUint
	OpLoadVarFlt
	OpLoadVarStr
	OpSaveVarUint
	OpSaveVarFlt
	OpSaveVarStr

	OpSetCurObject
	OpSetCurObjectNew
	OpSetCurField
	OpSetCurFieldArray
	OpLoadFieldUint
	OpLoadFieldFlt
	OpLoadFieldStr
	OpSaveFieldUint
	OpSaveFieldFlt
	OpSaveFieldStr

	OpConvertToFlt
	OpConvertToUint
	OpConvertToStr
	OpConvertToNone

	OpLoadImmedUint
	OpLoadImmedFlt
	OpLoadImmedStr
	OpLoadImmedIdent
	OpLoadImmedTag

	OpCallFuncFunction
	OpCallFuncMethod
	OpCallFuncParent

	OpAdvanceStr
	OpAdvanceStrAppendChar
	OpAdvanceStrComma
	OpAdvanceStrNull
	OpRewindStr
	OpTerminateRewindStr

	OpPush
	OpPushFrame
	OpDebugBreak

	OpUnused1
	OpUnused2

	opCount
)

// names holds the mnemonic for every opcode, indexed by Op.
var names = [opCount]string{
	OpFuncDecl:             "OP_FUNC_DECL",
	OpCreateObject:         "OP_CREATE_OBJECT",
	OpAddObject:            "OP_ADD_OBJECT",
	OpEndObject:            "OP_END_OBJECT",
	OpJmp:                  "OP_JMP",
	OpJmpIf:                "OP_JMPIF",
	OpJmpIff:               "OP_JMPIFF",
	OpJmpIfNot:             "OP_JMPIFNOT",
	OpJmpIffNot:            "OP_JMPIFFNOT",
	OpJmpIfNP:              "OP_JMPIF_NP",
	OpJmpIfNotNP:           "OP_JMPIFNOT_NP",
	OpReturn:               "OP_RETURN",
	OpAdd:                  "OP_ADD",
	OpSub:                  "OP_SUB",
	OpMul:                  "OP_MUL",
	OpDiv:                  "OP_DIV",
	OpMod:                  "OP_MOD",
	OpBitAnd:               "OP_BITAND",
	OpBitOr:                "OP_BITOR",
	OpXor:                  "OP_XOR",
	OpShl:                  "OP_SHL",
	OpShr:                  "OP_SHR",
	OpAnd:                  "OP_AND",
	OpOr:                   "OP_OR",
	OpCmpEq:                "OP_CMPEQ",
	OpCmpGr:                "OP_CMPGR",
	OpCmpGE:                "OP_CMPGE",
	OpCmpLT:                "OP_CMPLT",
	OpCmpLE:                "OP_CMPLE",
	OpCmpNE:                "OP_CMPNE",
	OpNeg:                  "OP_NEG",
	OpNot:                  "OP_NOT",
	OpNotF:                 "OP_NOTF",
	OpOnesCompl:            "OP_ONESCOMPLEMENT",
	OpCompareStr:           "OP_COMPARE_STR",
	OpSetCurVar:            "OP_SETCURVAR",
	OpSetCurVarArray:       "OP_SETCURVAR_ARRAY",
	OpLoadVarUint:          "OP_LOADVAR_UINT",
	OpLoadVarFlt:           "OP_LOADVAR_FLT",
	OpLoadVarStr:           "OP_LOADVAR_STR",
	OpSaveVarUint:          "OP_SAVEVAR_UINT",
	OpSaveVarFlt:           "OP_SAVEVAR_FLT",
	OpSaveVarStr:           "OP_SAVEVAR_STR",
	OpSetCurObject:         "OP_SETCUROBJECT",
	OpSetCurObjectNew:      "OP_SETCUROBJECT_NEW",
	OpSetCurField:          "OP_SETCURFIELD",
	OpSetCurFieldArray:     "OP_SETCURFIELD_ARRAY",
	OpLoadFieldUint:        "OP_LOADFIELD_UINT",
	OpLoadFieldFlt:         "OP_LOADFIELD_FLT",
	OpLoadFieldStr:         "OP_LOADFIELD_STR",
	OpSaveFieldUint:        "OP_SAVEFIELD_UINT",
	OpSaveFieldFlt:         "OP_SAVEFIELD_FLT",
	OpSaveFieldStr:         "OP_SAVEFIELD_STR",
	OpConvertToFlt:         "OP_CONVERT_TO_FLT",
	OpConvertToUint:        "OP_CONVERT_TO_UINT",
	OpConvertToStr:         "OP_CONVERT_TO_STR",
	OpConvertToNone:        "OP_CONVERT_TO_NONE",
	OpLoadImmedUint:        "OP_LOADIMMED_UINT",
	OpLoadImmedFlt:         "OP_LOADIMMED_FLT",
	OpLoadImmedStr:         "OP_LOADIMMED_STR",
	OpLoadImmedIdent:       "OP_LOADIMMED_IDENT",
	OpLoadImmedTag:         "OP_TAG_TO_STR",
	OpCallFuncFunction:     "OP_CALLFUNC",
	OpCallFuncMethod:       "OP_CALLFUNC_METHOD",
	OpCallFuncParent:       "OP_CALLFUNC_PARENT",
	OpAdvanceStr:           "OP_ADVANCE_STR",
	OpAdvanceStrAppendChar: "OP_ADVANCE_STR_APPENDCHAR",
	OpAdvanceStrComma:      "OP_ADVANCE_STR_COMMA",
	OpAdvanceStrNull:       "OP_ADVANCE_STR_NUL",
	OpRewindStr:            "OP_REWIND_STR",
	OpTerminateRewindStr:   "OP_TERMINATE_REWIND_STR",
	OpPush:                 "OP_PUSH",
	OpPushFrame:            "OP_PUSH_FRAME",
	OpDebugBreak:           "OP_DEBUG_BREAK",
	OpUnused1:              "OP_UNUSED1",
	OpUnused2:              "OP_UNUSED2",
}

// String returns the opcode's mnemonic, or a numeric placeholder if op is
// out of range.
func (op Op) String() string {
	if op < opCount {
		return names[op]
	}
	return fmt.Sprintf("OP_UNKNOWN(%d)", uint32(op))
}

// Valid reports whether op names a known opcode.
func (op Op) Valid() bool {
	return op < opCount
}

// Kind classifies an opcode's role in control-flow and CFG construction.
type Kind int

const (
	// KindOther is any opcode with no special control-flow or structural role.
	KindOther Kind = iota
	// KindJump is a Branch instruction (conditional or unconditional).
	KindJump
	// KindReturn terminates a CFG node with no successor.
	KindReturn
	// KindFuncDecl opens a new CFG region.
	KindFuncDecl
	// KindUnused is preserved filler, never executed meaningfully.
	KindUnused
)

// Kind reports op's control-flow role.
func (op Op) Kind() Kind {
	switch op {
	case OpFuncDecl:
		return KindFuncDecl
	case OpJmp, OpJmpIf, OpJmpIff, OpJmpIfNot, OpJmpIffNot, OpJmpIfNP, OpJmpIfNotNP:
		return KindJump
	case OpReturn:
		return KindReturn
	case OpUnused1, OpUnused2:
		return KindUnused
	default:
		return KindOther
	}
}

// BranchKind distinguishes the seven DSO branch forms.
type BranchKind int

const (
	BranchJmp BranchKind = iota
	BranchJmpIf
	BranchJmpIff
	BranchJmpIfNot
	BranchJmpIffNot
	BranchJmpIfNP
	BranchJmpIfNotNP
)

// branchKinds maps each jump opcode to its BranchKind.
var branchKinds = map[Op]BranchKind{
	OpJmp:        BranchJmp,
	OpJmpIf:      BranchJmpIf,
	OpJmpIff:     BranchJmpIff,
	OpJmpIfNot:   BranchJmpIfNot,
	OpJmpIffNot:  BranchJmpIffNot,
	OpJmpIfNP:    BranchJmpIfNP,
	OpJmpIfNotNP: BranchJmpIfNotNP,
}

// BranchKindFor returns the BranchKind of a jump opcode and whether op is
// actually a jump opcode.
func BranchKindFor(op Op) (BranchKind, bool) {
	k, ok := branchKinds[op]
	return k, ok
}

// Unconditional reports whether a branch kind pops no condition and always
// transfers control.
func (k BranchKind) Unconditional() bool {
	return k == BranchJmp
}

// PopsOperand reports whether evaluating this branch consumes the condition
// value from the expression stack. The "_NP" (no-pop) forms leave it.
func (k BranchKind) PopsOperand() bool {
	return k != BranchJmpIfNP && k != BranchJmpIfNotNP
}

// Inverted reports whether the fall-through edge (rather than the jump
// target) is the "then" side of the source conditional, per §4.4's
// condition-inversion rule.
func (k BranchKind) Inverted() bool {
	return k == BranchJmpIfNot || k == BranchJmpIffNot || k == BranchJmpIfNotNP
}

// ConvertTarget is the destination type of a ConvertToType instruction.
type ConvertTarget int

const (
	ConvertNone ConvertTarget = iota
	ConvertFloat
	ConvertUint
	ConvertString
)

// ConvertTargetFor returns the ConvertTarget of a convert opcode and whether
// op is actually a convert opcode.
func ConvertTargetFor(op Op) (ConvertTarget, bool) {
	switch op {
	case OpConvertToFlt:
		return ConvertFloat, true
	case OpConvertToUint:
		return ConvertUint, true
	case OpConvertToStr:
		return ConvertString, true
	case OpConvertToNone:
		return ConvertNone, true
	}
	return 0, false
}

// ProducesValue reports whether decoding op sets the disassembler's
// "returnable value" bit (§4.1). Mirrors the instruction classes spec.md
// §4.1 enumerates: every Load*, string-producing Save*, string-to-string
// converts, immediates, calls, and rewinds.
func (op Op) ProducesValue() bool {
	switch op {
	case OpLoadVarUint, OpLoadVarFlt, OpLoadVarStr,
		OpSaveVarStr,
		OpLoadFieldUint, OpLoadFieldFlt, OpLoadFieldStr,
		OpSaveFieldStr,
		OpConvertToStr,
		OpLoadImmedUint, OpLoadImmedFlt, OpLoadImmedStr, OpLoadImmedIdent, OpLoadImmedTag,
		OpCallFuncFunction, OpCallFuncMethod, OpCallFuncParent,
		OpRewindStr, OpTerminateRewindStr:
		return true
	}
	return false
}

// ClearsValue reports whether decoding op clears the "returnable value" bit.
func (op Op) ClearsValue() bool {
	return op == OpConvertToNone
}
