package lua

import (
	"fmt"
	"io"
	"strconv"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"
)

// ProbeName is the global function instrumented code calls before every statement.
const ProbeName = "__luastep_line"

// Compile parses and instruments a chunk, returning its compiled prototype.
func Compile(r io.Reader, name string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(r, name)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	proto, err := lua.Compile(Instrument(chunk), name)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	return proto, nil
}

// Instrument inserts a line probe before every statement of chunk that
// starts a line, including statements of nested blocks and function bodies.
// Labels get no probe.
func Instrument(chunk []ast.Stmt) []ast.Stmt {
	return instrumentBlock(chunk)
}

// instrumentBlock probes each statement that starts a new line of the
// block. Statements sharing the line of the previous probed statement run
// under that probe.
func instrumentBlock(stmts []ast.Stmt) []ast.Stmt {
	return probeBlock(stmts, 0)
}

// instrumentLoopBody probes the loop header at the start of every
// iteration, so a body stop is separated from the previous iteration's.
func instrumentLoopBody(header int, stmts []ast.Stmt) []ast.Stmt {
	if header <= 0 {
		return instrumentBlock(stmts)
	}
	out := []ast.Stmt{newProbe(header)}
	return append(out, probeBlock(stmts, header)...)
}

func probeBlock(stmts []ast.Stmt, lastLine int) []ast.Stmt {
	out := make([]ast.Stmt, 0, 2*len(stmts))
	for _, stmt := range stmts {
		instrumentStmt(stmt)
		_, isLabel := stmt.(*ast.LabelStmt)
		if line := stmt.Line(); !isLabel && line > 0 && line != lastLine {
			out = append(out, newProbe(line))
			lastLine = line
		}
		out = append(out, stmt)
	}
	return out
}

// newProbe builds `while __luastep_line(line) do end`.
func newProbe(line int) ast.Stmt {
	fn := &ast.IdentExpr{Value: ProbeName}
	arg := &ast.NumberExpr{Value: strconv.Itoa(line)}
	call := &ast.FuncCallExpr{Func: fn, Args: []ast.Expr{arg}}
	loop := &ast.WhileStmt{Condition: call, Stmts: []ast.Stmt{}}

	for _, n := range []ast.PositionHolder{fn, arg, call, loop} {
		n.SetLine(line)
		n.SetLastLine(line)
	}
	return loop
}

func instrumentStmt(stmt ast.Stmt) {
	switch s := stmt.(type) {
	case *ast.AssignStmt:
		instrumentExprs(s.Lhs)
		instrumentExprs(s.Rhs)
	case *ast.LocalAssignStmt:
		instrumentExprs(s.Exprs)
	case *ast.FuncCallStmt:
		instrumentExpr(s.Expr)
	case *ast.DoBlockStmt:
		s.Stmts = instrumentBlock(s.Stmts)
	case *ast.WhileStmt:
		instrumentExpr(s.Condition)
		s.Stmts = instrumentLoopBody(s.Line(), s.Stmts)
	case *ast.RepeatStmt:
		s.Stmts = instrumentBlock(s.Stmts)
		instrumentExpr(s.Condition)
	case *ast.IfStmt:
		instrumentExpr(s.Condition)
		s.Then = instrumentBlock(s.Then)
		s.Else = instrumentBlock(s.Else)
	case *ast.NumberForStmt:
		instrumentExpr(s.Init)
		instrumentExpr(s.Limit)
		instrumentExpr(s.Step)
		s.Stmts = instrumentLoopBody(s.Line(), s.Stmts)
	case *ast.GenericForStmt:
		instrumentExprs(s.Exprs)
		s.Stmts = instrumentLoopBody(s.Line(), s.Stmts)
	case *ast.FuncDefStmt:
		if s.Name != nil {
			instrumentExpr(s.Name.Func)
			instrumentExpr(s.Name.Receiver)
		}
		instrumentExpr(s.Func)
	case *ast.ReturnStmt:
		instrumentExprs(s.Exprs)
	}
}

func instrumentExprs(exprs []ast.Expr) {
	for _, e := range exprs {
		instrumentExpr(e)
	}
}

// instrumentExpr descends into expressions looking for function literals.
func instrumentExpr(expr ast.Expr) {
	switch e := expr.(type) {
	case nil:
	case *ast.FunctionExpr:
		e.Stmts = instrumentBlock(e.Stmts)
	case *ast.AttrGetExpr:
		instrumentExpr(e.Object)
		instrumentExpr(e.Key)
	case *ast.TableExpr:
		for _, f := range e.Fields {
			instrumentExpr(f.Key)
			instrumentExpr(f.Value)
		}
	case *ast.FuncCallExpr:
		instrumentExpr(e.Func)
		instrumentExpr(e.Receiver)
		instrumentExprs(e.Args)
	case *ast.LogicalOpExpr:
		instrumentExpr(e.Lhs)
		instrumentExpr(e.Rhs)
	case *ast.RelationalOpExpr:
		instrumentExpr(e.Lhs)
		instrumentExpr(e.Rhs)
	case *ast.StringConcatOpExpr:
		instrumentExpr(e.Lhs)
		instrumentExpr(e.Rhs)
	case *ast.ArithmeticOpExpr:
		instrumentExpr(e.Lhs)
		instrumentExpr(e.Rhs)
	case *ast.UnaryMinusOpExpr:
		instrumentExpr(e.Expr)
	case *ast.UnaryNotOpExpr:
		instrumentExpr(e.Expr)
	case *ast.UnaryLenOpExpr:
		instrumentExpr(e.Expr)
	}
}
