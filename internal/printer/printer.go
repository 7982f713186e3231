// Package printer renders an internal/ast token stream as TorqueScript
// source text (§6): statements terminated with `;`, blocks delimited with
// `{`/`}`, `%local`/`$global` identifier prefixes preserved as-is.
package printer

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/Electrk/dso-sharp/internal/ast"
)

const indentUnit = "    "

// Print renders stmts as top-level TorqueScript source.
func Print(stmts []ast.Stmt) string {
	var b strings.Builder
	for i, s := range stmts {
		writeStmt(&b, s, 0, i == 0)
	}
	return b.String()
}

// writeStmt renders s at the given indent level. topLevel suppresses the
// blank line normally separating top-level function declarations from
// whatever precedes them.
func writeStmt(b *strings.Builder, s ast.Stmt, indent int, topLevel bool) {
	pad := strings.Repeat(indentUnit, indent)

	switch st := s.(type) {
	case ast.ExprStmt:
		b.WriteString(pad)
		writeExpr(b, st.Expr, false)
		b.WriteString(";\n")

	case ast.Assign:
		b.WriteString(pad)
		writeAssign(b, st)
		b.WriteString(";\n")

	case ast.Block:
		b.WriteString(pad + "{\n")
		for _, inner := range st.Stmts {
			writeStmt(b, inner, indent+1, false)
		}
		b.WriteString(pad + "}\n")

	case ast.If:
		b.WriteString(pad + "if (")
		writeExpr(b, st.Cond, true)
		b.WriteString(")\n" + pad + "{\n")
		for _, inner := range st.Then {
			writeStmt(b, inner, indent+1, false)
		}
		b.WriteString(pad + "}\n")
		if len(st.Else) > 0 {
			b.WriteString(pad + "else\n" + pad + "{\n")
			for _, inner := range st.Else {
				writeStmt(b, inner, indent+1, false)
			}
			b.WriteString(pad + "}\n")
		}

	case ast.While:
		b.WriteString(pad + "while (")
		if st.Cond == nil {
			b.WriteString("true")
		} else {
			writeExpr(b, st.Cond, true)
		}
		b.WriteString(")\n" + pad + "{\n")
		for _, inner := range st.Body {
			writeStmt(b, inner, indent+1, false)
		}
		b.WriteString(pad + "}\n")

	case ast.Return:
		b.WriteString(pad + "return")
		if st.Value != nil {
			b.WriteString(" ")
			writeExpr(b, st.Value, true)
		}
		b.WriteString(";\n")

	case ast.Break:
		b.WriteString(pad + "break;\n")

	case ast.Continue:
		b.WriteString(pad + "continue;\n")

	case ast.Goto:
		b.WriteString(pad + "goto " + st.Label + ";\n")

	case ast.Label:
		b.WriteString(st.Name + ":\n")

	case ast.FuncDecl:
		if !topLevel {
			b.WriteString("\n")
		}
		b.WriteString(pad + "function ")
		if st.Namespace != "" {
			b.WriteString(st.Namespace + "::")
		}
		b.WriteString(st.Name + "(" + strings.Join(st.Args, ", ") + ")\n")
		b.WriteString(pad + "{\n")
		for _, inner := range st.Body {
			writeStmt(b, inner, indent+1, false)
		}
		b.WriteString(pad + "}\n")

	default:
		b.WriteString(pad + fmt.Sprintf("/* unhandled statement %T */\n", s))
	}
}

// writeAssign implements §4.5's assignment pretty-printing: `x = x + 1`
// and `x = x - 1` become `x++`/`x--`; any other `x = x op y` with the same
// target on both sides becomes the compound `x op= y`.
func writeAssign(b *strings.Builder, a ast.Assign) {
	if bin, ok := a.Value.(ast.Binary); ok && exprEqual(bin.Left, a.Target) {
		if c, ok := bin.Right.(ast.ConstUint); ok && c.Value == 1 {
			switch bin.Op {
			case "+":
				writeExpr(b, a.Target, true)
				b.WriteString("++")
				return
			case "-":
				writeExpr(b, a.Target, true)
				b.WriteString("--")
				return
			}
		}
		if isCompoundable(bin.Op) {
			writeExpr(b, a.Target, true)
			b.WriteString(" " + bin.Op + "= ")
			writeExpr(b, bin.Right, true)
			return
		}
	}
	writeExpr(b, a.Target, true)
	b.WriteString(" = ")
	writeExpr(b, a.Value, true)
}

func isCompoundable(op string) bool {
	switch op {
	case "+", "-", "*", "/", "%", "&", "|", "^", "<<", ">>":
		return true
	}
	return false
}

func exprEqual(a, b ast.Expr) bool {
	return reflect.DeepEqual(a, b)
}

// writeExpr renders e. asExpr suppresses nothing on its own today but is
// threaded through (rather than tracked as package state) per §9's
// "visitor with context" note, ready for a future statement-vs-expression
// distinction (e.g. call argument lists never want a trailing newline).
func writeExpr(b *strings.Builder, e ast.Expr, asExpr bool) {
	switch ex := e.(type) {
	case ast.ConstUint:
		fmt.Fprintf(b, "%d", ex.Value)

	case ast.ConstFloat:
		fmt.Fprintf(b, "%g", ex.Value)

	case ast.ConstString:
		writeStringLit(b, ex.Value, ex.Tagged)

	case ast.Var:
		b.WriteString(ex.Name)
		writeIndex(b, ex.Index, asExpr)

	case ast.Field:
		if ex.Object != nil {
			writeExpr(b, ex.Object, asExpr)
			b.WriteString(".")
		}
		b.WriteString(ex.Name)
		writeIndex(b, ex.Index, asExpr)

	case ast.Binary:
		writeExpr(b, ex.Left, asExpr)
		b.WriteString(" " + ex.Op + " ")
		writeExpr(b, ex.Right, asExpr)

	case ast.Unary:
		b.WriteString(ex.Op)
		writeExpr(b, ex.Operand, asExpr)

	case ast.Call:
		writeCallName(b, ex)
		b.WriteString("(")
		for i, arg := range ex.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			writeExpr(b, arg, true)
		}
		b.WriteString(")")

	case ast.Concat:
		for i, part := range ex.Parts {
			if i > 0 {
				b.WriteString(" @ ")
			}
			writeExpr(b, part, true)
		}

	case ast.NewObject:
		b.WriteString("new ")
		writeExpr(b, ex.ClassName, true)
		b.WriteString("(")
		writeExpr(b, ex.Name, true)
		if ex.ParentName != "" {
			b.WriteString(":" + ex.ParentName)
		}
		b.WriteString(")")
		if len(ex.Fields) > 0 {
			b.WriteString("\n{\n")
			for _, f := range ex.Fields {
				writeStmt(b, f, 1, false)
			}
			b.WriteString("}")
		}

	default:
		fmt.Fprintf(b, "/* unhandled expr %T */", e)
	}
}

func writeCallName(b *strings.Builder, c ast.Call) {
	switch c.Kind {
	case ast.CallParent:
		b.WriteString("Parent::" + c.Name)
	case ast.CallMethod:
		if c.Namespace != "" {
			b.WriteString(c.Namespace + "." + c.Name)
		} else {
			b.WriteString(c.Name)
		}
	default:
		b.WriteString(c.Name)
	}
}

func writeIndex(b *strings.Builder, idx ast.Expr, asExpr bool) {
	if idx == nil {
		return
	}
	b.WriteString("[")
	writeExpr(b, idx, asExpr)
	b.WriteString("]")
}

func writeStringLit(b *strings.Builder, s string, tagged bool) {
	if tagged {
		b.WriteString("'" + s + "'")
		return
	}
	b.WriteString("\"" + s + "\"")
}
