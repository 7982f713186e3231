// Package dom computes immediate dominators over a control-flow graph
// using the Cooper/Harvey/Kennedy "simple, fast dominance" algorithm, and
// exposes the loop-detection queries the structural analyzer needs.
package dom

import (
	"github.com/pkg/errors"

	"github.com/Electrk/dso-sharp/internal/cfg"
	"github.com/Electrk/dso-sharp/internal/dsoaddr"
)

// ErrInternal is the sentinel for internal-invariant violations (§7): the
// dominator algorithm failing to assign an immediate dominator to some
// reachable non-entry node.
var ErrInternal = errors.New("dso: internal invariant violation")

// Graph is the computed dominator relation over one CFG, plus the
// reverse-postorder numbering used to compute it (§3, §4.3).
type Graph struct {
	entry dsoaddr.Addr
	idom  map[dsoaddr.Addr]dsoaddr.Addr
	rpo   map[dsoaddr.Addr]int
}

// Compute builds the dominator graph of g.
func Compute(g *cfg.CFG) (*Graph, error) {
	order := reversePostorder(g)
	rpo := make(map[dsoaddr.Addr]int, len(order))
	for i, addr := range order {
		rpo[addr] = i
	}

	idom := map[dsoaddr.Addr]dsoaddr.Addr{g.Entry: g.Entry}
	changed := true
	for changed {
		changed = false
		for _, b := range order {
			if b == g.Entry {
				continue
			}
			node := g.Node(b)
			var newIdom dsoaddr.Addr
			haveNew := false
			for _, p := range node.Pred {
				if _, ok := idom[p]; !ok {
					continue
				}
				if !haveNew {
					newIdom = p
					haveNew = true
					continue
				}
				newIdom = intersect(rpo, idom, newIdom, p)
			}
			if !haveNew {
				continue
			}
			if cur, ok := idom[b]; !ok || cur != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}

	for _, addr := range order {
		if addr == g.Entry {
			continue
		}
		if _, ok := idom[addr]; !ok {
			return nil, errors.Wrapf(ErrInternal, "no immediate dominator assigned to reachable node %v", addr)
		}
	}
	delete(idom, g.Entry) // entry has no immediate dominator once the fixpoint is reached.

	return &Graph{entry: g.Entry, idom: idom, rpo: rpo}, nil
}

// intersect is the "two fingers" common-dominator walk (§4.3): advance
// whichever finger has the higher reverse-postorder number until they
// meet.
func intersect(rpo map[dsoaddr.Addr]int, idom map[dsoaddr.Addr]dsoaddr.Addr, a, b dsoaddr.Addr) dsoaddr.Addr {
	for a != b {
		for rpo[a] > rpo[b] {
			a = idom[a]
		}
		for rpo[b] > rpo[a] {
			b = idom[b]
		}
	}
	return a
}

// reversePostorder returns g's nodes in reverse postorder from its entry,
// via a simple recursive DFS.
func reversePostorder(g *cfg.CFG) dsoaddr.Addrs {
	visited := make(map[dsoaddr.Addr]bool, len(g.Nodes))
	var post dsoaddr.Addrs
	var visit func(addr dsoaddr.Addr)
	visit = func(addr dsoaddr.Addr) {
		if visited[addr] {
			return
		}
		visited[addr] = true
		for _, s := range g.Node(addr).Succ {
			visit(s)
		}
		post = append(post, addr)
	}
	visit(g.Entry)

	order := make(dsoaddr.Addrs, len(post))
	for i, addr := range post {
		order[len(post)-1-i] = addr
	}
	return order
}

// ImmediateDom returns b's immediate dominator. ok is false for the entry
// node (which has none) and for nodes outside the graph.
func (d *Graph) ImmediateDom(b dsoaddr.Addr) (addr dsoaddr.Addr, ok bool) {
	addr, ok = d.idom[b]
	return addr, ok
}

// Dominates reports whether a dominates b. When strict is false, a node
// trivially dominates itself.
func (d *Graph) Dominates(a, b dsoaddr.Addr, strict bool) bool {
	if a == b {
		return !strict
	}
	cur := b
	for {
		idom, ok := d.idom[cur]
		if !ok {
			return false // reached the entry's non-existent idom without finding a
		}
		if idom == a {
			return true
		}
		cur = idom
	}
}

// IsCycleStart reports whether h has a back-edge predecessor: some
// predecessor p of h such that h dominates p.
func (d *Graph) IsCycleStart(g *cfg.CFG, h dsoaddr.Addr) bool {
	for _, p := range g.Node(h).Pred {
		if d.Dominates(h, p, false) {
			return true
		}
	}
	return false
}

// IsCycleEnd reports whether n has a successor that dominates it.
func (d *Graph) IsCycleEnd(g *cfg.CFG, n dsoaddr.Addr) bool {
	for _, s := range g.Node(n).Succ {
		if d.Dominates(s, n, false) {
			return true
		}
	}
	return false
}

// NaturalLoop returns the natural loop of the back edge tail->header: header
// plus every node that can reach tail without passing back through header.
func NaturalLoop(g *cfg.CFG, header, tail dsoaddr.Addr) map[dsoaddr.Addr]bool {
	loop := map[dsoaddr.Addr]bool{header: true}
	if tail == header {
		return loop
	}
	loop[tail] = true
	queue := []dsoaddr.Addr{tail}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, p := range g.Node(n).Pred {
			if !loop[p] {
				loop[p] = true
				queue = append(queue, p)
			}
		}
	}
	return loop
}
