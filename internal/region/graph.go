// Package region holds the mutable region graph the structural analyzer
// reduces, and the virtual-region tree it produces.
package region

import (
	"github.com/Electrk/dso-sharp/internal/cfg"
	"github.com/Electrk/dso-sharp/internal/dsoaddr"
)

// Node is a region-graph node: a mutable mirror of one cfg.ControlFlowNode.
// Block is read-only; Succ/Pred shrink as the structural analyzer collapses
// the graph.
type Node struct {
	Addr  dsoaddr.Addr
	Block *cfg.ControlFlowNode
	Succ  dsoaddr.Addrs
	Pred  dsoaddr.Addrs
}

// Graph is the mutable region graph: a 1:1 copy of a CFG at construction
// time, reduced in place by the structural analyzer.
type Graph struct {
	Entry dsoaddr.Addr
	Nodes map[dsoaddr.Addr]*Node
}

// New builds a region graph that mirrors g exactly.
func New(g *cfg.CFG) *Graph {
	nodes := make(map[dsoaddr.Addr]*Node, len(g.Nodes))
	for addr, block := range g.Nodes {
		succ := make(dsoaddr.Addrs, len(block.Succ))
		copy(succ, block.Succ)
		pred := make(dsoaddr.Addrs, len(block.Pred))
		copy(pred, block.Pred)
		nodes[addr] = &Node{Addr: addr, Block: block, Succ: succ, Pred: pred}
	}
	return &Graph{Entry: g.Entry, Nodes: nodes}
}

// Node returns the node at addr, or nil.
func (g *Graph) Node(addr dsoaddr.Addr) *Node { return g.Nodes[addr] }

// Len returns the number of remaining nodes.
func (g *Graph) Len() int { return len(g.Nodes) }

// RemoveEdge removes the edge from->to, if present.
func (g *Graph) RemoveEdge(from, to dsoaddr.Addr) {
	if n := g.Nodes[from]; n != nil {
		n.Succ = removeAddr(n.Succ, to)
	}
	if n := g.Nodes[to]; n != nil {
		n.Pred = removeAddr(n.Pred, from)
	}
}

// AddEdge adds the edge from->to if it is not already present.
func (g *Graph) AddEdge(from, to dsoaddr.Addr) {
	if n := g.Nodes[from]; n != nil && !contains(n.Succ, to) {
		n.Succ = append(n.Succ, to)
	}
	if n := g.Nodes[to]; n != nil && !contains(n.Pred, from) {
		n.Pred = append(n.Pred, from)
	}
}

// RemoveNode deletes addr from the graph. It does not touch neighboring
// Succ/Pred lists; callers rewire edges explicitly before removing a node,
// since the rewiring rule differs per reduction (§4.4).
func (g *Graph) RemoveNode(addr dsoaddr.Addr) {
	delete(g.Nodes, addr)
}

// Retarget replaces every occurrence of oldAddr with newAddr across every
// remaining node's Succ and Pred lists. Used when a reduction collapses a
// node and its neighbors must point around it.
func (g *Graph) Retarget(oldAddr, newAddr dsoaddr.Addr) {
	for _, n := range g.Nodes {
		n.Succ = replaceAddr(n.Succ, oldAddr, newAddr)
		n.Pred = replaceAddr(n.Pred, oldAddr, newAddr)
	}
}

func contains(addrs dsoaddr.Addrs, addr dsoaddr.Addr) bool {
	for _, a := range addrs {
		if a == addr {
			return true
		}
	}
	return false
}

func removeAddr(addrs dsoaddr.Addrs, addr dsoaddr.Addr) dsoaddr.Addrs {
	out := addrs[:0]
	for _, a := range addrs {
		if a != addr {
			out = append(out, a)
		}
	}
	return out
}

func replaceAddr(addrs dsoaddr.Addrs, oldAddr, newAddr dsoaddr.Addr) dsoaddr.Addrs {
	out := make(dsoaddr.Addrs, 0, len(addrs))
	seen := false
	for _, a := range addrs {
		if a == oldAddr {
			a = newAddr
		}
		if a == newAddr {
			if seen {
				continue
			}
			seen = true
		}
		out = append(out, a)
	}
	return out
}

// Snapshot renders the current graph shape as a *cfg.CFG so that
// internal/dom (which is written against the CFG type) can recompute
// dominance over a reduced region graph.
func (g *Graph) Snapshot() *cfg.CFG {
	nodes := make(map[dsoaddr.Addr]*cfg.ControlFlowNode, len(g.Nodes))
	for addr, n := range g.Nodes {
		succ := make(dsoaddr.Addrs, len(n.Succ))
		copy(succ, n.Succ)
		pred := make(dsoaddr.Addrs, len(n.Pred))
		copy(pred, n.Pred)
		nodes[addr] = &cfg.ControlFlowNode{Addr: addr, Succ: succ, Pred: pred}
	}
	return &cfg.CFG{Entry: g.Entry, Nodes: nodes}
}

// PostOrder returns every remaining node address in post-order DFS from
// entry, the traversal order the structural analyzer's main loop uses
// (§4.4).
func (g *Graph) PostOrder() dsoaddr.Addrs {
	visited := make(map[dsoaddr.Addr]bool, len(g.Nodes))
	var post dsoaddr.Addrs
	var visit func(addr dsoaddr.Addr)
	visit = func(addr dsoaddr.Addr) {
		if visited[addr] {
			return
		}
		visited[addr] = true
		n := g.Nodes[addr]
		if n == nil {
			return
		}
		for _, s := range n.Succ {
			visit(s)
		}
		post = append(post, addr)
	}
	visit(g.Entry)
	return post
}
