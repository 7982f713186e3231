// Package dsoaddr provides a uniform representation of DSO code offsets.
package dsoaddr

import (
	"fmt"
)

// Addr is the 32-bit word index of an instruction within a DSO code segment.
type Addr uint32

// String returns the hexadecimal string representation of v.
func (v Addr) String() string {
	return fmt.Sprintf("0x%08X", uint32(v))
}

// Addrs implements sort.Interface, sorting addresses in ascending order.
type Addrs []Addr

func (as Addrs) Len() int           { return len(as) }
func (as Addrs) Swap(i, j int)      { as[i], as[j] = as[j], as[i] }
func (as Addrs) Less(i, j int) bool { return as[i] < as[j] }
