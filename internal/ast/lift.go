package ast

import (
	"fmt"
	"log"
	"os"

	"github.com/mewkiz/pkg/term"
	"github.com/pkg/errors"

	"github.com/Electrk/dso-sharp/internal/cfg"
	"github.com/Electrk/dso-sharp/internal/disasm"
	"github.com/Electrk/dso-sharp/internal/dsoaddr"
	"github.com/Electrk/dso-sharp/internal/region"
)

// dbg logs lift trace messages with an "ast:" prefix.
var dbg = log.New(os.Stderr, term.MagentaBold("ast:")+" ", 0)

// ErrInternal is the sentinel for lift-time invariant violations: a Save*
// with an empty expression stack, or a Call whose PushFrame was never
// opened (§7's "internal assertion failures... may abort the process",
// applied here as a returned error rather than a panic since a malformed
// region tree is a decoder bug worth reporting, not a crash).
var ErrInternal = errors.New("dso: internal invariant violation")

// objFrame accumulates one in-progress CreateObject/AddObject/EndObject
// declaration.
type objFrame struct {
	className, name Expr
	parentName      string
	isDatablock     bool
	atRoot          bool
	fields          []Stmt
}

// sim is the expression-stack simulator threaded through one function's
// (or the main script's) entire lift (§4.5, §9's "visitor with context":
// state here is explicit, never global).
type sim struct {
	stack []Expr

	curVarName  string
	curVarIndex Expr
	curObject   Expr
	curField    string
	curFieldIdx Expr

	argFrames [][]Expr
	concat    []Expr
	objFrames []*objFrame
}

func (s *sim) push(e Expr) { s.stack = append(s.stack, e) }

func (s *sim) pop() (Expr, error) {
	if len(s.stack) == 0 {
		return nil, errors.WithStack(ErrInternal)
	}
	e := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return e, nil
}

// top returns the current stack top without popping, or nil if empty. A
// Conditional/Loop head's test expression is read with pop instead (see
// liftHead).
func (s *sim) top() Expr {
	if len(s.stack) == 0 {
		return nil
	}
	return s.stack[len(s.stack)-1]
}

func (s *sim) varTarget() Expr {
	return Var{Name: s.curVarName, Index: s.curVarIndex}
}

func (s *sim) fieldTarget() Expr {
	return Field{Object: s.curObject, Name: s.curField, Index: s.curFieldIdx}
}

// Lift lowers a single CFG's reduced virtual region into a statement list
// and, for a function region, its FuncDecl wrapper. Each CFG gets a fresh
// sim: the expression stack never carries state across function
// boundaries (§5: analyze/lift owns its own structures per invocation).
func Lift(vr region.VirtualRegion) ([]Stmt, error) {
	dbg.Printf("Lift(%T)", vr)
	s := &sim{}
	return liftRegion(vr, s)
}

func liftRegion(vr region.VirtualRegion, s *sim) ([]Stmt, error) {
	switch r := vr.(type) {
	case nil:
		return nil, nil

	case region.Instruction:
		return liftBlock(r.Block, s)

	case region.LoopFooter:
		return liftBlock(r.Block, s)

	case region.Sequence:
		var out []Stmt
		for _, sub := range r.Body {
			stmts, err := liftRegion(sub, s)
			if err != nil {
				return nil, err
			}
			out = append(out, stmts...)
		}
		return out, nil

	case region.Function:
		body, err := liftRegion(r.Body, s)
		if err != nil {
			return nil, err
		}
		fn := r.Header.FuncHeader.Data.(disasm.FunctionDecl)
		return []Stmt{FuncDecl{Name: fn.Name, Namespace: fn.Namespace, Package: fn.Package, Args: fn.Args, Body: body}}, nil

	case region.Conditional:
		return liftConditional(r, s)

	case region.Loop:
		stmt, err := liftLoop(r, s)
		if err != nil {
			return nil, err
		}
		return []Stmt{stmt}, nil

	case region.Goto:
		return []Stmt{Goto{Label: label(r.Target)}}, nil

	case region.ConditionalGoto:
		headStmts, cond, err := liftHead(r.Head, s)
		if err != nil {
			return nil, err
		}
		return append(headStmts, If{Cond: cond, Then: []Stmt{Goto{Label: label(r.Target)}}}), nil

	case region.Break:
		return []Stmt{Break{}}, nil

	case region.Continue:
		return []Stmt{Continue{}}, nil

	default:
		return nil, errors.Errorf("ast: unhandled region type %T", vr)
	}
}

func label(addr dsoaddr.Addr) string {
	return fmt.Sprintf("L%v", addr)
}

// liftHead simulates block's instructions and pops the resulting condition
// expression, returning any other statements the block produced as a side
// effect (rare, but a head block may contain a Save before its test).
func liftHead(block *cfg.ControlFlowNode, s *sim) ([]Stmt, Expr, error) {
	stmts, err := liftBlock(block, s)
	if err != nil {
		return nil, nil, err
	}
	cond, err := s.pop()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "condition block at %v left no value on the stack", block.Addr)
	}
	return stmts, cond, nil
}

func liftConditional(r region.Conditional, s *sim) ([]Stmt, error) {
	headStmts, cond, err := liftHead(r.Head, s)
	if err != nil {
		return nil, err
	}
	thenStmts, err := liftRegion(r.Then, s)
	if err != nil {
		return nil, err
	}
	var elseStmts []Stmt
	if r.Else != nil {
		elseStmts, err = liftRegion(r.Else, s)
		if err != nil {
			return nil, err
		}
	}
	return append(headStmts, If{Cond: cond, Then: thenStmts, Else: elseStmts}), nil
}

// liftLoop lowers a Loop region to a While statement (§4.5). The first
// top-level element of the loop's body that is a Conditional{Else: nil}
// whose Then lifts to a single Return/Break (an early-exit guard folded in
// by the structural analyzer's acyclic reduction, see internal/structural's
// guard clauses) has its head condition hoisted into the While's own test,
// and the guard is dropped, recovering the literal `while (cond) { ... }`
// shape of §8 scenario 5. A loop body without such an element is printed
// as `while (true) { ... }`. Loop.Infinite is not read.
func liftLoop(r region.Loop, s *sim) (Stmt, error) {
	flat := flattenTop(r.Body)

	for i, sub := range flat {
		cond, ok := sub.(region.Conditional)
		if !ok || cond.Else != nil {
			continue
		}
		thenStmts, err := liftRegion(cond.Then, s)
		if err != nil {
			return nil, err
		}
		if !isExitOnly(thenStmts) {
			continue
		}
		headStmts, condExpr, err := liftHead(cond.Head, s)
		if err != nil {
			return nil, err
		}
		var body []Stmt
		body = append(body, headStmts...)
		for j, other := range flat {
			if j == i {
				continue
			}
			stmts, err := liftRegion(other, s)
			if err != nil {
				return nil, err
			}
			body = append(body, stmts...)
		}
		return While{Cond: condExpr, Body: body}, nil
	}

	var body []Stmt
	for _, sub := range flat {
		stmts, err := liftRegion(sub, s)
		if err != nil {
			return nil, err
		}
		body = append(body, stmts...)
	}
	return While{Cond: nil, Body: body}, nil
}

// flattenTop splices a top-level Sequence into its elements so liftLoop can
// scan the loop body's immediate children; it does not recurse into nested
// Sequences (region.Append already keeps those flat, §3's invariant).
func flattenTop(vr region.VirtualRegion) []region.VirtualRegion {
	if seq, ok := vr.(region.Sequence); ok {
		return seq.Body
	}
	return []region.VirtualRegion{vr}
}

// isExitOnly reports whether stmts is a lone Return or Break, the only
// shapes liftLoop treats as a loop-exit guard rather than real loop body
// content.
func isExitOnly(stmts []Stmt) bool {
	if len(stmts) != 1 {
		return false
	}
	switch stmts[0].(type) {
	case Return, Break:
		return true
	}
	return false
}

// liftBlock simulates every instruction in block, in order, against s,
// returning the statements it produced. A trailing Branch is stepped as a
// no-op: conditionals and loops consume a head block's test value directly
// off the stack via liftHead/liftLoop.
func liftBlock(block *cfg.ControlFlowNode, s *sim) ([]Stmt, error) {
	var stmts []Stmt
	for _, inst := range block.Insts {
		st, err := step(inst, s)
		if err != nil {
			return nil, errors.Wrapf(err, "lifting instruction at %v", inst.Addr)
		}
		if st != nil {
			stmts = append(stmts, st...)
		}
	}
	return stmts, nil
}

// step simulates a single instruction's effect on the stack and current
// var/object/field state, returning any statement(s) it produces.
func step(inst *disasm.Instruction, s *sim) ([]Stmt, error) {
	switch d := inst.Data.(type) {
	case disasm.LoadImmediate:
		s.push(loadImmediate(d))

	case disasm.SetCurVar:
		s.curVarName, s.curVarIndex = d.Name, nil

	case disasm.SetCurVarArray:
		idx, err := s.pop()
		if err != nil {
			return nil, err
		}
		s.curVarIndex = idx

	case disasm.LoadVar:
		s.push(s.varTarget())

	case disasm.SaveVar:
		value, err := s.pop()
		if err != nil {
			return nil, err
		}
		target := s.varTarget()
		s.push(target)
		return []Stmt{Assign{Target: target, Value: value}}, nil

	case disasm.SetCurObject:
		obj, err := s.pop()
		if err != nil {
			return nil, err
		}
		s.curObject = obj

	case disasm.SetCurField:
		s.curField, s.curFieldIdx = d.Name, nil

	case disasm.SetCurFieldArray:
		idx, err := s.pop()
		if err != nil {
			return nil, err
		}
		s.curFieldIdx = idx

	case disasm.LoadField:
		s.push(s.fieldTarget())

	case disasm.SaveField:
		value, err := s.pop()
		if err != nil {
			return nil, err
		}
		target := s.fieldTarget()
		s.push(target)
		return []Stmt{Assign{Target: target, Value: value}}, nil

	case disasm.Binary:
		right, err := s.pop()
		if err != nil {
			return nil, err
		}
		left, err := s.pop()
		if err != nil {
			return nil, err
		}
		s.push(Binary{Op: binaryOpText(d.Kind), Left: left, Right: right})

	case disasm.Unary:
		operand, err := s.pop()
		if err != nil {
			return nil, err
		}
		s.push(Unary{Op: unaryOpText(d.Kind), Operand: operand})

	case disasm.StringCompare:
		right, err := s.pop()
		if err != nil {
			return nil, err
		}
		left, err := s.pop()
		if err != nil {
			return nil, err
		}
		s.push(Binary{Op: "$=", Left: left, Right: right})

	case disasm.ConvertToType:
		// A type coercion marker with no surface-syntax equivalent; the
		// value underneath is unchanged (§4.5 doesn't call for an
		// explicit cast node, and TorqueScript itself has none).

	case disasm.Push:
		v, err := s.pop()
		if err != nil {
			return nil, err
		}
		if len(s.argFrames) == 0 {
			return nil, errors.Wrap(ErrInternal, "PUSH with no open PUSH_FRAME")
		}
		top := len(s.argFrames) - 1
		s.argFrames[top] = append(s.argFrames[top], v)

	case disasm.PushFrame:
		s.argFrames = append(s.argFrames, nil)

	case disasm.Call:
		if len(s.argFrames) == 0 {
			return nil, errors.Wrap(ErrInternal, "CALL with no open PUSH_FRAME")
		}
		top := len(s.argFrames) - 1
		args := s.argFrames[top]
		s.argFrames = s.argFrames[:top]
		s.push(Call{Name: d.Name, Namespace: d.Namespace, Kind: callKind(d.Kind), Args: args})

	case disasm.AdvanceString:
		v, err := s.pop()
		if err != nil {
			return nil, err
		}
		s.concat = append(s.concat, v)
		if d.Kind == disasm.AdvanceAppendChar {
			s.concat = append(s.concat, ConstString{Value: string(d.Ch)})
		}

	case disasm.Rewind:
		parts := s.concat
		s.concat = nil
		s.push(Concat{Parts: parts, Tagged: d.Terminate})

	case disasm.CreateObject:
		className, err := s.pop()
		if err != nil {
			return nil, err
		}
		name, err := s.pop()
		if err != nil {
			return nil, err
		}
		s.objFrames = append(s.objFrames, &objFrame{
			className: className, name: name,
			parentName: d.ParentName, isDatablock: d.IsDatablock,
		})

	case disasm.AddObject:
		if len(s.objFrames) > 0 {
			s.objFrames[len(s.objFrames)-1].atRoot = d.PlaceAtRoot
		}

	case disasm.EndObject:
		if len(s.objFrames) == 0 {
			return nil, errors.Wrap(ErrInternal, "END_OBJECT with no open CREATE_OBJECT")
		}
		top := len(s.objFrames) - 1
		f := s.objFrames[top]
		s.objFrames = s.objFrames[:top]
		s.push(NewObject{
			ClassName: f.className, Name: f.name,
			ParentName: f.parentName, IsDatablock: f.isDatablock,
			AtRoot: f.atRoot, Fields: f.fields,
		})

	case disasm.Return:
		// ReturnsValue comes from the disassembler's linear STR flag, which
		// an instruction on another control-flow path can set; with nothing
		// on the stack the return is lifted without a value.
		if d.ReturnsValue && len(s.stack) > 0 {
			v, err := s.pop()
			if err != nil {
				return nil, err
			}
			return []Stmt{Return{Value: v}}, nil
		}
		return []Stmt{Return{}}, nil

	case disasm.DebugBreak, disasm.Unused:
		// No surface effect.

	case disasm.FunctionDecl:
		// The declaration is rendered from region.Function's header.

	case disasm.Branch:
		// A no-op here: the caller (liftHead/liftLoop) reads the test value
		// the head block left on the stack.

	default:
		return nil, errors.Errorf("ast: unhandled instruction data %T", inst.Data)
	}
	return nil, nil
}

func loadImmediate(d disasm.LoadImmediate) Expr {
	switch d.Kind {
	case disasm.ImmediateUint:
		return ConstUint{Value: d.Uint}
	case disasm.ImmediateFloat:
		return ConstFloat{Value: d.Float}
	case disasm.ImmediateStringRef:
		return ConstString{Value: d.Str}
	case disasm.ImmediateIdentRef:
		return ConstString{Value: d.Str}
	case disasm.ImmediateTagRef:
		return ConstString{Value: d.Str, Tagged: true}
	}
	return ConstString{Value: d.Str}
}

func callKind(k disasm.CallKind) CallKind {
	switch k {
	case disasm.CallMethod:
		return CallMethod
	case disasm.CallParent:
		return CallParent
	default:
		return CallFunction
	}
}

func binaryOpText(k disasm.BinaryKind) string {
	switch k {
	case disasm.BinaryAdd:
		return "+"
	case disasm.BinarySub:
		return "-"
	case disasm.BinaryMul:
		return "*"
	case disasm.BinaryDiv:
		return "/"
	case disasm.BinaryMod:
		return "%"
	case disasm.BinaryBitAnd:
		return "&"
	case disasm.BinaryBitOr:
		return "|"
	case disasm.BinaryXor:
		return "^"
	case disasm.BinaryShl:
		return "<<"
	case disasm.BinaryShr:
		return ">>"
	case disasm.BinaryAnd:
		return "&&"
	case disasm.BinaryOr:
		return "||"
	case disasm.BinaryCmpEq:
		return "=="
	case disasm.BinaryCmpGr:
		return ">"
	case disasm.BinaryCmpGE:
		return ">="
	case disasm.BinaryCmpLT:
		return "<"
	case disasm.BinaryCmpLE:
		return "<="
	case disasm.BinaryCmpNE:
		return "!="
	}
	return "?"
}

func unaryOpText(k disasm.UnaryKind) string {
	switch k {
	case disasm.UnaryNeg:
		return "-"
	case disasm.UnaryNot:
		return "!"
	case disasm.UnaryNotF:
		return "!"
	case disasm.UnaryOnesCompl:
		return "~"
	}
	return "?"
}
