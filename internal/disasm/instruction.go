// Package disasm turns a flat DSO code segment into a typed instruction
// list, resolving identifier-table references and marking branch targets
// along the way.
package disasm

import (
	"github.com/Electrk/dso-sharp/internal/dsoaddr"
	"github.com/Electrk/dso-sharp/internal/opcode"
)

// Instruction is an immutable decoded DSO instruction.
type Instruction struct {
	// Addr is the word index of the instruction's opcode word.
	Addr dsoaddr.Addr
	// Opcode is the instruction's opcode.
	Opcode opcode.Op
	// IsBranchTarget is set by the branch-target pass (§4.1) when some
	// Branch instruction elsewhere names this instruction's Addr.
	IsBranchTarget bool
	// Data holds the opcode-specific operands.
	Data InstData
}

// InstData is the closed set of per-opcode operand shapes. Every concrete
// type below implements it.
type InstData interface {
	isInstData()
}

// FunctionDecl opens a function body (or declares a prototype without one).
type FunctionDecl struct {
	Name      string
	Namespace string
	Package   string
	HasBody   bool
	EndAddr   dsoaddr.Addr
	Args      []string
}

// CreateObject begins an object or datablock declaration.
type CreateObject struct {
	ParentName   string
	IsDatablock  bool
	FailJumpAddr dsoaddr.Addr
}

// AddObject registers the object under construction with its parent/root.
type AddObject struct {
	PlaceAtRoot bool
}

// EndObject closes the current object declaration.
type EndObject struct {
	Value bool
}

// Branch is a conditional or unconditional control transfer.
type Branch struct {
	TargetAddr dsoaddr.Addr
	Kind       opcode.BranchKind
}

// Return returns from the current function.
type Return struct {
	// ReturnsValue is set if the most recently decoded value-producing
	// instruction left a value on the STR register (§4.1).
	ReturnsValue bool
}

// BinaryKind enumerates the DSO binary operators.
type BinaryKind int

const (
	BinaryAdd BinaryKind = iota
	BinarySub
	BinaryMul
	BinaryDiv
	BinaryMod
	BinaryBitAnd
	BinaryBitOr
	BinaryXor
	BinaryShl
	BinaryShr
	BinaryAnd
	BinaryOr
	BinaryCmpEq
	BinaryCmpGr
	BinaryCmpGE
	BinaryCmpLT
	BinaryCmpLE
	BinaryCmpNE
)

// Binary pops two operands and pushes the result of a binary operator.
type Binary struct {
	Kind BinaryKind
}

// UnaryKind enumerates the unary operators distinguished from Binary
// because they pop exactly one operand.
type UnaryKind int

const (
	UnaryNeg UnaryKind = iota
	UnaryNot
	UnaryNotF
	UnaryOnesCompl
)

// Unary pops one operand and pushes the result of a unary operator.
type Unary struct {
	Kind UnaryKind
}

// StringCompare pops two string operands and pushes a boolean result.
type StringCompare struct{}

// SetCurVar names the variable subsequent LoadVar/SaveVar target.
type SetCurVar struct {
	Name string
}

// SetCurVarArray is SetCurVar for an array-indexed local/global.
type SetCurVarArray struct{}

// LoadVar pushes the value of the current variable.
type LoadVar struct{}

// SaveVar pops a value and assigns it to the current variable.
type SaveVar struct{}

// SetCurObject establishes the current object for field access.
type SetCurObject struct {
	IsNew bool
}

// SetCurField names the field subsequent LoadField/SaveField target.
type SetCurField struct {
	Name string
}

// SetCurFieldArray is SetCurField for an array-indexed field.
type SetCurFieldArray struct{}

// LoadField pushes the value of the current object's current field.
type LoadField struct{}

// SaveField pops a value and assigns it to the current object's field.
type SaveField struct{}

// ConvertToType coerces the top-of-stack value.
type ConvertToType struct {
	Target opcode.ConvertTarget
}

// ImmediateKind enumerates the immediate operand encodings.
type ImmediateKind int

const (
	ImmediateUint ImmediateKind = iota
	ImmediateFloat
	ImmediateStringRef
	ImmediateIdentRef
	ImmediateTagRef
)

// LoadImmediate pushes a constant operand.
type LoadImmediate struct {
	Kind ImmediateKind
	// Uint holds the decoded value for ImmediateUint.
	Uint uint32
	// Float holds the decoded value for ImmediateFloat.
	Float float64
	// Str holds the resolved value for ImmediateStringRef, ImmediateIdentRef
	// and ImmediateTagRef.
	Str string
}

// CallKind distinguishes the three DSO call forms.
type CallKind int

const (
	CallFunction CallKind = iota
	CallMethod
	CallParent
)

// Call pops argc expressions (tracked by the AST lift, not here) and
// invokes a named function, method, or parent-namespace call.
type Call struct {
	Name      string
	Namespace string
	Kind      CallKind
}

// AdvanceKind enumerates the string-building advance forms.
type AdvanceKind int

const (
	AdvancePlain AdvanceKind = iota
	AdvanceAppendChar
	AdvanceComma
	AdvanceNull
)

// AdvanceString pushes a concatenation step while building a string.
type AdvanceString struct {
	Kind AdvanceKind
	// Ch holds the appended character for AdvanceAppendChar.
	Ch byte
}

// Rewind finalizes (or continues) a string-building sequence.
type Rewind struct {
	Terminate bool
}

// Push duplicates/pushes the current expression-stack top per the DSO
// calling convention.
type Push struct{}

// PushFrame marks the start of a call's argument list.
type PushFrame struct{}

// DebugBreak is a debugger breakpoint marker; never alters control flow.
type DebugBreak struct{}

// Unused is a preserved no-op filler opcode.
type Unused struct{}

func (FunctionDecl) isInstData()     {}
func (CreateObject) isInstData()     {}
func (AddObject) isInstData()        {}
func (EndObject) isInstData()        {}
func (Branch) isInstData()           {}
func (Return) isInstData()           {}
func (Binary) isInstData()           {}
func (Unary) isInstData()            {}
func (StringCompare) isInstData()    {}
func (SetCurVar) isInstData()        {}
func (SetCurVarArray) isInstData()   {}
func (LoadVar) isInstData()          {}
func (SaveVar) isInstData()          {}
func (SetCurObject) isInstData()     {}
func (SetCurField) isInstData()      {}
func (SetCurFieldArray) isInstData() {}
func (LoadField) isInstData()        {}
func (SaveField) isInstData()        {}
func (ConvertToType) isInstData()    {}
func (LoadImmediate) isInstData()    {}
func (Call) isInstData()             {}
func (AdvanceString) isInstData()    {}
func (Rewind) isInstData()           {}
func (Push) isInstData()             {}
func (PushFrame) isInstData()        {}
func (DebugBreak) isInstData()       {}
func (Unused) isInstData()           {}
