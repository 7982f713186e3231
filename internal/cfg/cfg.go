// Package cfg builds a control-flow graph of basic blocks from a
// disassembly: one CFG for the main script body, and one per function body.
package cfg

import (
	"log"
	"os"
	"sort"

	"github.com/mewkiz/pkg/term"
	"github.com/pkg/errors"

	"github.com/Electrk/dso-sharp/internal/disasm"
	"github.com/Electrk/dso-sharp/internal/dsoaddr"
)

var dbg = log.New(os.Stderr, term.MagentaBold("cfg:")+" ", 0)

// ControlFlowNode is a basic block: a maximal contiguous (within its CFG's
// region) run of instructions with a single entry and single exit.
type ControlFlowNode struct {
	// Addr is the address of the block's leader instruction; also its key
	// in CFG.Nodes.
	Addr dsoaddr.Addr
	// Insts is the block's instruction list, in address order.
	Insts []*disasm.Instruction
	// Succ and Pred store neighbor addresses, never owning pointers, so
	// that the structural analyzer can rewire them in place (§9).
	Succ dsoaddr.Addrs
	Pred dsoaddr.Addrs
	// IsFunction is set on the entry block of a function-body CFG.
	IsFunction bool
	// FuncHeader is the FunctionDecl instruction, set iff IsFunction.
	FuncHeader *disasm.Instruction
}

// First returns the block's leader instruction.
func (n *ControlFlowNode) First() *disasm.Instruction { return n.Insts[0] }

// Last returns the block's terminating instruction.
func (n *ControlFlowNode) Last() *disasm.Instruction { return n.Insts[len(n.Insts)-1] }

// CFG is a control-flow graph over one top-level code span: the main
// script body, or a single function body.
type CFG struct {
	// Entry is the address of the CFG's unique entry node (its lowest
	// address).
	Entry dsoaddr.Addr
	// Nodes maps block address to block; a bijection within this CFG.
	Nodes map[dsoaddr.Addr]*ControlFlowNode
}

// Node returns the node at addr, or nil.
func (g *CFG) Node(addr dsoaddr.Addr) *ControlFlowNode { return g.Nodes[addr] }

// Build constructs the main-script CFG and one CFG per function body (only
// for functions with a body) from d.
func Build(d *disasm.Disassembly) ([]*CFG, error) {
	type funcRange struct {
		start, end dsoaddr.Addr
		header     *disasm.Instruction
	}
	var ranges []funcRange
	for _, addr := range d.Order {
		inst := d.At(addr)
		fn, ok := inst.Data.(disasm.FunctionDecl)
		if ok && fn.HasBody {
			ranges = append(ranges, funcRange{start: addr, end: fn.EndAddr, header: inst})
		}
	}
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })

	inFunction := func(addr dsoaddr.Addr) bool {
		for _, r := range ranges {
			if addr >= r.start && addr < r.end {
				return true
			}
		}
		return false
	}

	var mainRegion []dsoaddr.Addr
	for _, addr := range d.Order {
		if !inFunction(addr) {
			mainRegion = append(mainRegion, addr)
		}
	}

	var cfgs []*CFG
	if len(mainRegion) > 0 {
		g, err := build(mainRegion, d, nil)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		cfgs = append(cfgs, g)
	}

	for _, r := range ranges {
		var region []dsoaddr.Addr
		for _, addr := range d.Order {
			if addr >= r.start && addr < r.end {
				region = append(region, addr)
			}
		}
		g, err := build(region, d, r.header)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		cfgs = append(cfgs, g)
	}
	return cfgs, nil
}

// build constructs a single CFG over the given region (a subsequence of
// d.Order, in ascending address order). header is non-nil when this region
// is a function body, in which case the entry node is flagged IsFunction.
func build(region []dsoaddr.Addr, d *disasm.Disassembly, header *disasm.Instruction) (*CFG, error) {
	dbg.Printf("build(region entry = %v, n = %d)", region[0], len(region))

	leaders := map[dsoaddr.Addr]bool{region[0]: true}
	for i := 1; i < len(region); i++ {
		addr := region[i]
		if d.At(addr).IsBranchTarget {
			leaders[addr] = true
			continue
		}
		if endsBlock(d.At(region[i-1])) {
			leaders[addr] = true
		}
	}

	nodes := make(map[dsoaddr.Addr]*ControlFlowNode)
	var order dsoaddr.Addrs
	var cur *ControlFlowNode
	for _, addr := range region {
		if leaders[addr] {
			cur = &ControlFlowNode{Addr: addr}
			nodes[addr] = cur
			order = append(order, addr)
		}
		cur.Insts = append(cur.Insts, d.At(addr))
	}

	entry := order[0]
	if header != nil {
		nodes[entry].IsFunction = true
		nodes[entry].FuncHeader = header
	}

	for i, addr := range order {
		node := nodes[addr]
		last := node.Last()
		switch data := last.Data.(type) {
		case disasm.Branch:
			target, ok := nodes[data.TargetAddr]
			if !ok {
				return nil, structuralErrorf("branch at %v targets address %v outside its own region", last.Addr, data.TargetAddr)
			}
			addEdge(node, target)
			if !data.Kind.Unconditional() && i+1 < len(order) {
				addEdge(node, nodes[order[i+1]])
			}
		case disasm.Return:
			// No successor.
		default:
			if i+1 < len(order) {
				addEdge(node, nodes[order[i+1]])
			}
		}
	}

	reachable := reachableFrom(nodes, entry)
	return &CFG{Entry: entry, Nodes: reachable}, nil
}

// endsBlock reports whether prev's instruction kind forces the next
// in-region instruction to start a new block: a branch, a return, or a
// function-declaration boundary (§4.2).
func endsBlock(prev *disasm.Instruction) bool {
	switch prev.Data.(type) {
	case disasm.Branch, disasm.Return, disasm.FunctionDecl:
		return true
	}
	return false
}

func addEdge(from, to *ControlFlowNode) {
	if !containsAddr(from.Succ, to.Addr) {
		from.Succ = append(from.Succ, to.Addr)
	}
	if !containsAddr(to.Pred, from.Addr) {
		to.Pred = append(to.Pred, from.Addr)
	}
}

func containsAddr(addrs dsoaddr.Addrs, addr dsoaddr.Addr) bool {
	for _, a := range addrs {
		if a == addr {
			return true
		}
	}
	return false
}

// reachableFrom drops every node not reachable from entry via forward
// edges (§4.2's CFG-soundness invariant), and removes dangling pred
// references to dropped nodes.
func reachableFrom(nodes map[dsoaddr.Addr]*ControlFlowNode, entry dsoaddr.Addr) map[dsoaddr.Addr]*ControlFlowNode {
	seen := map[dsoaddr.Addr]bool{entry: true}
	queue := []dsoaddr.Addr{entry}
	for len(queue) > 0 {
		addr := queue[0]
		queue = queue[1:]
		for _, s := range nodes[addr].Succ {
			if !seen[s] {
				seen[s] = true
				queue = append(queue, s)
			}
		}
	}

	result := make(map[dsoaddr.Addr]*ControlFlowNode, len(seen))
	for addr := range seen {
		result[addr] = nodes[addr]
	}
	for addr, node := range result {
		var pred dsoaddr.Addrs
		for _, p := range node.Pred {
			if seen[p] {
				pred = append(pred, p)
			}
		}
		node.Pred = pred
		_ = addr
	}
	return result
}
