// Package loader implements disasm.FileData (§6) by parsing the DSO
// container format: a magic/version header, global string table, global
// float table, length-prefixed code segment, and an identifier fixup
// table. This is the "external collaborator" §1 places out of the core's
// scope, given a concrete instance here so the pipeline is runnable
// end-to-end (SPEC_FULL.md §4.6).
package loader

import (
	"bufio"
	"encoding/binary"
	"io"
	"log"
	"os"

	"github.com/mewkiz/pkg/term"
	"github.com/pkg/errors"
)

// dbg logs loader trace messages with a "loader:" prefix.
var dbg = log.New(os.Stderr, term.MagentaBold("loader:")+" ", 0)

// Magic identifies a dso-sharp container. CurrentVersion is the default of
// the CLI's --version hint (SPEC_FULL.md §4.8); Load does not check the
// version word, it only records it in File.Version.
const (
	Magic          uint32 = 0x44534F31 // "DSO1"
	CurrentVersion uint32 = 1
	// noIdentSentinel marks a code-segment operand with no identifier
	// fixup applied (§4.1, §6).
	noIdentSentinel uint32 = 0xFFFFFFFF
)

// File is the loaded, read-only view of a DSO file: internal/disasm's
// FileData interface, concretely implemented.
type File struct {
	Version uint32
	strings []string // indexed by entry number; see StringTable
	floats  []float64
	code    []uint32
}

// CodeSize implements disasm.FileData.
func (f *File) CodeSize() uint32 { return uint32(len(f.code)) }

// Op implements disasm.FileData.
func (f *File) Op(at uint32) uint32 {
	if int(at) >= len(f.code) {
		return 0
	}
	return f.code[at]
}

// Identifier implements disasm.FileData. By the time Load returns, every
// identifier-bearing code word already holds its fixed-up raw value (the
// fixup table's patch pass, below); Identifier only needs to tell a
// literal string-table index from the "no identifier" sentinel.
func (f *File) Identifier(at, raw uint32) (string, bool) {
	if raw == noIdentSentinel {
		return "", false
	}
	return f.StringTable(raw), true
}

// StringTable implements disasm.FileData.
func (f *File) StringTable(raw uint32) string {
	if int(raw) >= len(f.strings) {
		return ""
	}
	return f.strings[raw]
}

// FloatTable implements disasm.FileData.
func (f *File) FloatTable(raw uint32) float64 {
	if int(raw) >= len(f.floats) {
		return 0
	}
	return f.floats[raw]
}

// Load reads a DSO container from r.
func Load(r io.Reader) (*File, error) {
	br := bufio.NewReader(r)

	magic, err := readU32(br)
	if err != nil {
		return nil, errors.Wrap(err, "reading magic")
	}
	if magic != Magic {
		return nil, formatErrorf("bad magic 0x%08X, want 0x%08X", magic, Magic)
	}
	version, err := readU32(br)
	if err != nil {
		return nil, errors.Wrap(err, "reading version")
	}
	dbg.Printf("Load(version = %d)", version)

	strings_, err := readStringTable(br)
	if err != nil {
		return nil, errors.Wrap(err, "reading string table")
	}
	floats, err := readFloatTable(br)
	if err != nil {
		return nil, errors.Wrap(err, "reading float table")
	}
	code, err := readCodeSegment(br)
	if err != nil {
		return nil, errors.Wrap(err, "reading code segment")
	}
	if err := applyFixups(br, code); err != nil {
		return nil, errors.Wrap(err, "applying identifier fixup table")
	}

	return &File{Version: version, strings: strings_, floats: floats, code: code}, nil
}

// LoadFile opens and loads the DSO file at path.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	file, err := Load(f)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", path)
	}
	return file, nil
}

func readU32(r io.Reader) (uint32, error) {
	var v uint32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, errors.WithStack(err)
	}
	return v, nil
}

func readF64(r io.Reader) (float64, error) {
	var v float64
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, errors.WithStack(err)
	}
	return v, nil
}

// readStringTable reads a byte length followed by that many bytes of
// NUL-separated strings (§6).
func readStringTable(r io.Reader) ([]string, error) {
	byteLen, err := readU32(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, byteLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.WithStack(err)
	}
	var out []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			out = append(out, string(buf[start:i]))
			start = i + 1
		}
	}
	if start < len(buf) {
		out = append(out, string(buf[start:]))
	}
	return out, nil
}

func readFloatTable(r io.Reader) ([]float64, error) {
	count, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]float64, count)
	for i := range out {
		v, err := readF64(r)
		if err != nil {
			return nil, errors.Wrapf(err, "float table entry %d", i)
		}
		out[i] = v
	}
	return out, nil
}

func readCodeSegment(r io.Reader) ([]uint32, error) {
	wordCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, wordCount)
	for i := range out {
		w, err := readU32(r)
		if err != nil {
			return nil, errors.Wrapf(err, "code word %d", i)
		}
		out[i] = w
	}
	return out, nil
}

// applyFixups reads the identifier fixup table and patches code in place:
// each (rawWord, offsets) pair overwrites code[offset] with rawWord for
// every listed offset (§6).
func applyFixups(r io.Reader, code []uint32) error {
	pairCount, err := readU32(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < pairCount; i++ {
		rawWord, err := readU32(r)
		if err != nil {
			return errors.Wrapf(err, "fixup pair %d: raw word", i)
		}
		offsetCount, err := readU32(r)
		if err != nil {
			return errors.Wrapf(err, "fixup pair %d: offset count", i)
		}
		for j := uint32(0); j < offsetCount; j++ {
			offset, err := readU32(r)
			if err != nil {
				return errors.Wrapf(err, "fixup pair %d: offset %d", i, j)
			}
			if int(offset) >= len(code) {
				return formatErrorf("fixup pair %d targets out-of-range code offset %d (code has %d words)", i, offset, len(code))
			}
			code[offset] = rawWord
		}
	}
	return nil
}
