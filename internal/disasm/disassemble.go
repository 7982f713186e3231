package disasm

import (
	"log"
	"os"

	"github.com/mewkiz/pkg/term"
	"github.com/pkg/errors"

	"github.com/Electrk/dso-sharp/internal/dsoaddr"
	"github.com/Electrk/dso-sharp/internal/opcode"
)

var (
	// dbg logs disassembly trace messages with a "disasm:" prefix.
	dbg = log.New(os.Stderr, term.MagentaBold("disasm:")+" ", 0)
	// warn logs non-fatal disassembly conditions.
	warn = log.New(os.Stderr, term.RedBold("warning:")+" ", 0)
)

// Disassembly is the output of a single disassembler run: every decoded
// instruction, address-keyed, plus their strictly-increasing address order.
type Disassembly struct {
	ByAddr map[dsoaddr.Addr]*Instruction
	Order  dsoaddr.Addrs
}

// At returns the instruction at addr, or nil if addr does not name one.
func (d *Disassembly) At(addr dsoaddr.Addr) *Instruction {
	return d.ByAddr[addr]
}

// decoder threads the single-bit STR dataflow (§4.1, §9) through a linear
// sweep of the code segment. It is never reused across runs.
//
// err is sticky: once a read runs past the end of the code segment, every
// subsequent readWord becomes a no-op and decodeOne reports err instead of
// assembling an instruction from zero-valued operands. This lets decodeData's
// per-opcode operand reads (readIdent, readAddr, ...) stay plain,
// error-free helper calls even though an operand read can fail.
type decoder struct {
	fd         FileData
	pos        uint32 // next word index to read
	returnable bool
	err        error
}

// Disassemble parses the entire code segment of fd into a Disassembly.
func Disassemble(fd FileData) (*Disassembly, error) {
	d := &decoder{fd: fd}
	byAddr := make(map[dsoaddr.Addr]*Instruction)
	var order dsoaddr.Addrs

	size := fd.CodeSize()
	dbg.Printf("Disassemble(codeSize = %d words)", size)
	for d.pos < size {
		addr := dsoaddr.Addr(d.pos)
		inst, err := d.decodeOne(addr)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		byAddr[addr] = inst
		order = append(order, addr)
	}

	if err := markBranchTargets(byAddr); err != nil {
		return nil, errors.WithStack(err)
	}
	return &Disassembly{ByAddr: byAddr, Order: order}, nil
}

// markBranchTargets runs the branch-target pass (§4.1): every Branch's
// TargetAddr must name an existing instruction, and that instruction's
// IsBranchTarget flag is set.
func markBranchTargets(byAddr map[dsoaddr.Addr]*Instruction) error {
	for addr, inst := range byAddr {
		b, ok := inst.Data.(Branch)
		if !ok {
			continue
		}
		target, ok := byAddr[b.TargetAddr]
		if !ok {
			return formatErrorf("branch at %v targets non-instruction address %v", addr, b.TargetAddr)
		}
		target.IsBranchTarget = true
	}
	return nil
}

func (d *decoder) readWord() uint32 {
	if d.err != nil {
		return 0
	}
	if d.pos >= d.fd.CodeSize() {
		d.err = formatErrorf("truncated code segment: expected a word at %d, code segment has %d words", d.pos, d.fd.CodeSize())
		return 0
	}
	w := d.fd.Op(d.pos)
	d.pos++
	return w
}

func (d *decoder) readAddr() dsoaddr.Addr {
	return dsoaddr.Addr(d.readWord())
}

func (d *decoder) readBool() bool {
	return d.readWord() != 0
}

// readIdent reads one operand word and resolves it through the identifier
// fixup table, as every identifier-bearing operand does (§4.1).
func (d *decoder) readIdent() string {
	at := d.pos
	raw := d.readWord()
	name, _ := d.fd.Identifier(at, raw)
	return name
}

func (d *decoder) readString() string {
	return d.fd.StringTable(d.readWord())
}

func (d *decoder) readFloat() float64 {
	return d.fd.FloatTable(d.readWord())
}

// setReturnable updates the STR dataflow bit for the opcode just decoded,
// per §4.1: producing ops set it, *_to_None clears it.
func (d *decoder) setReturnable(op opcode.Op) {
	if op.ProducesValue() {
		d.returnable = true
	} else if op.ClearsValue() {
		d.returnable = false
	}
}

// decodeOne reads one opcode word plus its operands starting at addr.
func (d *decoder) decodeOne(addr dsoaddr.Addr) (*Instruction, error) {
	word := d.readWord()
	if d.err != nil {
		return nil, d.err
	}
	op := opcode.Op(word)
	if !op.Valid() {
		return nil, formatErrorf("unknown opcode 0x%08X at %v", word, addr)
	}

	data, err := d.decodeData(addr, op)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if d.err != nil {
		return nil, d.err
	}
	d.setReturnable(op)

	return &Instruction{Addr: addr, Opcode: op, Data: data}, nil
}

func (d *decoder) decodeData(addr dsoaddr.Addr, op opcode.Op) (InstData, error) {
	switch op {
	case opcode.OpFuncDecl:
		name := d.readIdent()
		namespace := d.readIdent()
		pkg := d.readIdent()
		hasBody := d.readBool()
		endAddr := d.readAddr()
		argc := d.readWord()
		args := make([]string, argc)
		for i := range args {
			args[i] = d.readIdent()
		}
		return FunctionDecl{Name: name, Namespace: namespace, Package: pkg, HasBody: hasBody, EndAddr: endAddr, Args: args}, nil

	case opcode.OpCreateObject:
		parent := d.readIdent()
		isDatablock := d.readBool()
		failJump := d.readAddr()
		return CreateObject{ParentName: parent, IsDatablock: isDatablock, FailJumpAddr: failJump}, nil

	case opcode.OpAddObject:
		return AddObject{PlaceAtRoot: d.readBool()}, nil

	case opcode.OpEndObject:
		return EndObject{Value: d.readBool()}, nil

	case opcode.OpJmp, opcode.OpJmpIf, opcode.OpJmpIff, opcode.OpJmpIfNot, opcode.OpJmpIffNot, opcode.OpJmpIfNP, opcode.OpJmpIfNotNP:
		target := d.readAddr()
		kind, _ := opcode.BranchKindFor(op)
		return Branch{TargetAddr: target, Kind: kind}, nil

	case opcode.OpReturn:
		r := Return{ReturnsValue: d.returnable}
		d.returnable = false
		return r, nil

	case opcode.OpAdd, opcode.OpSub, opcode.OpMul, opcode.OpDiv, opcode.OpMod,
		opcode.OpBitAnd, opcode.OpBitOr, opcode.OpXor, opcode.OpShl, opcode.OpShr,
		opcode.OpAnd, opcode.OpOr,
		opcode.OpCmpEq, opcode.OpCmpGr, opcode.OpCmpGE, opcode.OpCmpLT, opcode.OpCmpLE, opcode.OpCmpNE:
		return Binary{Kind: binaryKindFor(op)}, nil

	case opcode.OpNeg:
		return Unary{Kind: UnaryNeg}, nil
	case opcode.OpNot:
		return Unary{Kind: UnaryNot}, nil
	case opcode.OpNotF:
		return Unary{Kind: UnaryNotF}, nil
	case opcode.OpOnesCompl:
		return Unary{Kind: UnaryOnesCompl}, nil

	case opcode.OpCompareStr:
		return StringCompare{}, nil

	case opcode.OpSetCurVar:
		return SetCurVar{Name: d.readIdent()}, nil
	case opcode.OpSetCurVarArray:
		return SetCurVarArray{}, nil
	case opcode.OpLoadVarUint, opcode.OpLoadVarFlt, opcode.OpLoadVarStr:
		return LoadVar{}, nil
	case opcode.OpSaveVarUint, opcode.OpSaveVarFlt, opcode.OpSaveVarStr:
		return SaveVar{}, nil

	case opcode.OpSetCurObject:
		return SetCurObject{IsNew: false}, nil
	case opcode.OpSetCurObjectNew:
		return SetCurObject{IsNew: true}, nil
	case opcode.OpSetCurField:
		return SetCurField{Name: d.readIdent()}, nil
	case opcode.OpSetCurFieldArray:
		return SetCurFieldArray{}, nil
	case opcode.OpLoadFieldUint, opcode.OpLoadFieldFlt, opcode.OpLoadFieldStr:
		return LoadField{}, nil
	case opcode.OpSaveFieldUint, opcode.OpSaveFieldFlt, opcode.OpSaveFieldStr:
		return SaveField{}, nil

	case opcode.OpConvertToFlt, opcode.OpConvertToUint, opcode.OpConvertToStr, opcode.OpConvertToNone:
		target, _ := opcode.ConvertTargetFor(op)
		return ConvertToType{Target: target}, nil

	case opcode.OpLoadImmedUint:
		return LoadImmediate{Kind: ImmediateUint, Uint: d.readWord()}, nil
	case opcode.OpLoadImmedFlt:
		return LoadImmediate{Kind: ImmediateFloat, Float: d.readFloat()}, nil
	case opcode.OpLoadImmedStr:
		return LoadImmediate{Kind: ImmediateStringRef, Str: d.readString()}, nil
	case opcode.OpLoadImmedIdent:
		return LoadImmediate{Kind: ImmediateIdentRef, Str: d.readIdent()}, nil
	case opcode.OpLoadImmedTag:
		return LoadImmediate{Kind: ImmediateTagRef, Str: d.readString()}, nil

	case opcode.OpCallFuncFunction:
		return Call{Name: d.readIdent(), Namespace: d.readIdent(), Kind: CallFunction}, nil
	case opcode.OpCallFuncMethod:
		return Call{Name: d.readIdent(), Namespace: d.readIdent(), Kind: CallMethod}, nil
	case opcode.OpCallFuncParent:
		return Call{Name: d.readIdent(), Namespace: d.readIdent(), Kind: CallParent}, nil

	case opcode.OpAdvanceStr:
		return AdvanceString{Kind: AdvancePlain}, nil
	case opcode.OpAdvanceStrAppendChar:
		return AdvanceString{Kind: AdvanceAppendChar, Ch: byte(d.readWord())}, nil
	case opcode.OpAdvanceStrComma:
		return AdvanceString{Kind: AdvanceComma}, nil
	case opcode.OpAdvanceStrNull:
		return AdvanceString{Kind: AdvanceNull}, nil

	case opcode.OpRewindStr:
		return Rewind{Terminate: false}, nil
	case opcode.OpTerminateRewindStr:
		return Rewind{Terminate: true}, nil

	case opcode.OpPush:
		return Push{}, nil
	case opcode.OpPushFrame:
		return PushFrame{}, nil
	case opcode.OpDebugBreak:
		return DebugBreak{}, nil

	case opcode.OpUnused1, opcode.OpUnused2:
		warn.Printf("preserving filler opcode %v at %v", op, addr)
		return Unused{}, nil
	}

	return nil, formatErrorf("unhandled opcode %v at %v", op, addr)
}

func binaryKindFor(op opcode.Op) BinaryKind {
	switch op {
	case opcode.OpAdd:
		return BinaryAdd
	case opcode.OpSub:
		return BinarySub
	case opcode.OpMul:
		return BinaryMul
	case opcode.OpDiv:
		return BinaryDiv
	case opcode.OpMod:
		return BinaryMod
	case opcode.OpBitAnd:
		return BinaryBitAnd
	case opcode.OpBitOr:
		return BinaryBitOr
	case opcode.OpXor:
		return BinaryXor
	case opcode.OpShl:
		return BinaryShl
	case opcode.OpShr:
		return BinaryShr
	case opcode.OpAnd:
		return BinaryAnd
	case opcode.OpOr:
		return BinaryOr
	case opcode.OpCmpEq:
		return BinaryCmpEq
	case opcode.OpCmpGr:
		return BinaryCmpGr
	case opcode.OpCmpGE:
		return BinaryCmpGE
	case opcode.OpCmpLT:
		return BinaryCmpLT
	case opcode.OpCmpLE:
		return BinaryCmpLE
	case opcode.OpCmpNE:
		return BinaryCmpNE
	}
	panic("disasm: binaryKindFor called with non-binary opcode")
}
