package ir

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// This file implements ".irtext": a small, line-oriented textual
// assembler for the IR, used by tests to encode short pseudo-IR
// fixture programs directly. The CLI binaries do not read it.
//
// Grammar (one statement per line, blank lines and "#" comments
// ignored):
//
//	func NAME(param:Type, ...) {
//	var NAME:Type
//	block NAME:
//	NAME = load VAR
//	store VAR = VALUE
//	NAME = call CALLEE(VALUE, ...)
//	call CALLEE(VALUE, ...)
//	NAME = icmp PRED VALUE, VALUE
//	NAME = bin OP VALUE, VALUE
//	NAME = phi VALUE, ...
//	br LABEL
//	condbr VALUE, LABEL, LABEL
//	ret [VALUE]
//	unreachable
//	}
//
// VALUE is a var name, a previously bound instruction result name, an
// integer literal, "#123", a global "@R_NilValue", or a symbol
// constant "$dim".

// ParseText parses the ".irtext" source of a single module.
func ParseText(src string) (*Module, error) {
	m := NewModule("irtext")
	sc := bufio.NewScanner(strings.NewReader(src))
	var f *Function
	var b *BasicBlock
	vars := map[string]*Var{}
	names := map[string]Value{} // instruction-result bindings, scoped per function
	blocks := map[string]*BasicBlock{}
	lineNo := 0

	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "}" {
			f = nil
			b = nil
			vars = map[string]*Var{}
			names = map[string]Value{}
			blocks = map[string]*BasicBlock{}
			continue
		}
		if strings.HasPrefix(line, "func ") {
			sig := strings.TrimSuffix(strings.TrimPrefix(line, "func "), "{")
			sig = strings.TrimSpace(sig)
			open := strings.Index(sig, "(")
			close := strings.LastIndex(sig, ")")
			if open < 0 || close < open {
				return nil, fmt.Errorf("irtext:%d: bad func signature %q", lineNo, line)
			}
			name := strings.TrimSpace(sig[:open])
			f = m.NewFunction(name)
			params := strings.TrimSpace(sig[open+1 : close])
			if params != "" {
				for _, p := range strings.Split(params, ",") {
					p = strings.TrimSpace(p)
					n, t, err := splitTyped(p)
					if err != nil {
						return nil, fmt.Errorf("irtext:%d: %w", lineNo, err)
					}
					v := f.NewVar(n, t, true)
					vars[n] = v
				}
			}
			continue
		}
		if f == nil {
			return nil, fmt.Errorf("irtext:%d: statement outside function: %q", lineNo, line)
		}
		if strings.HasPrefix(line, "var ") {
			n, t, err := splitTyped(strings.TrimSpace(strings.TrimPrefix(line, "var ")))
			if err != nil {
				return nil, fmt.Errorf("irtext:%d: %w", lineNo, err)
			}
			vars[n] = f.NewVar(n, t, false)
			continue
		}
		if strings.HasPrefix(line, "block ") {
			label := strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(line, "block ")), ":")
			b = f.NewBlock(label)
			blocks[label] = b
			continue
		}
		if b == nil {
			return nil, fmt.Errorf("irtext:%d: statement outside block: %q", lineNo, line)
		}

		resolve := func(tok string) (Value, error) {
			tok = strings.TrimSpace(tok)
			if v, ok := vars[tok]; ok {
				return valueOfVar(v), nil // used only where a bare Var reference is legal (load/store target resolved separately)
			}
			if v, ok := names[tok]; ok {
				return v, nil
			}
			if strings.HasPrefix(tok, "#") {
				n, err := strconv.ParseInt(tok[1:], 10, 64)
				if err != nil {
					return nil, fmt.Errorf("bad int literal %q", tok)
				}
				return ConstInt{Val: n}, nil
			}
			if strings.HasPrefix(tok, "@") {
				return m.Global(tok[1:], TypeSEXP), nil
			}
			if strings.HasPrefix(tok, "$") {
				return ConstSym{Name: tok[1:]}, nil
			}
			if n, err := strconv.ParseInt(tok, 10, 64); err == nil {
				return ConstInt{Val: n}, nil
			}
			return nil, fmt.Errorf("unresolved value %q", tok)
		}

		var bind string
		rest := line
		if eq := strings.Index(line, "="); eq >= 0 && !strings.HasPrefix(line, "store ") {
			bind = strings.TrimSpace(line[:eq])
			rest = strings.TrimSpace(line[eq+1:])
		}

		switch {
		case rest == "unreachable":
			b.Unreachable()
		case strings.HasPrefix(rest, "load "):
			vn := strings.TrimSpace(strings.TrimPrefix(rest, "load "))
			v, ok := vars[vn]
			if !ok {
				return nil, fmt.Errorf("irtext:%d: unknown var %q", lineNo, vn)
			}
			in := b.Load(v)
			names[bind] = in
		case strings.HasPrefix(rest, "store "):
			body := strings.TrimSpace(strings.TrimPrefix(rest, "store "))
			parts := strings.SplitN(body, "=", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("irtext:%d: bad store %q", lineNo, rest)
			}
			v, ok := vars[strings.TrimSpace(parts[0])]
			if !ok {
				return nil, fmt.Errorf("irtext:%d: unknown var %q", lineNo, parts[0])
			}
			val, err := resolve(strings.TrimSpace(parts[1]))
			if err != nil {
				return nil, fmt.Errorf("irtext:%d: %w", lineNo, err)
			}
			b.Store(v, val)
		case strings.HasPrefix(rest, "call "):
			callee, args, err := parseCall(strings.TrimPrefix(rest, "call "), resolve)
			if err != nil {
				return nil, fmt.Errorf("irtext:%d: %w", lineNo, err)
			}
			in := b.Call(callee, args...)
			if bind != "" {
				names[bind] = in
			}
		case strings.HasPrefix(rest, "icmp "):
			body := strings.TrimSpace(strings.TrimPrefix(rest, "icmp "))
			fields := strings.SplitN(body, " ", 2)
			if len(fields) != 2 {
				return nil, fmt.Errorf("irtext:%d: bad icmp %q", lineNo, rest)
			}
			pred, err := parsePred(fields[0])
			if err != nil {
				return nil, fmt.Errorf("irtext:%d: %w", lineNo, err)
			}
			operands := strings.SplitN(fields[1], ",", 2)
			if len(operands) != 2 {
				return nil, fmt.Errorf("irtext:%d: bad icmp operands %q", lineNo, fields[1])
			}
			x, err := resolve(operands[0])
			if err != nil {
				return nil, fmt.Errorf("irtext:%d: %w", lineNo, err)
			}
			y, err := resolve(operands[1])
			if err != nil {
				return nil, fmt.Errorf("irtext:%d: %w", lineNo, err)
			}
			in := b.ICmp(pred, x, y)
			names[bind] = in
		case strings.HasPrefix(rest, "bin "):
			body := strings.TrimSpace(strings.TrimPrefix(rest, "bin "))
			fields := strings.SplitN(body, " ", 2)
			if len(fields) != 2 {
				return nil, fmt.Errorf("irtext:%d: bad bin %q", lineNo, rest)
			}
			operands := strings.SplitN(fields[1], ",", 2)
			if len(operands) != 2 {
				return nil, fmt.Errorf("irtext:%d: bad bin operands %q", lineNo, fields[1])
			}
			x, err := resolve(operands[0])
			if err != nil {
				return nil, fmt.Errorf("irtext:%d: %w", lineNo, err)
			}
			y, err := resolve(operands[1])
			if err != nil {
				return nil, fmt.Errorf("irtext:%d: %w", lineNo, err)
			}
			in := b.Bin(fields[0], x, y)
			names[bind] = in
		case strings.HasPrefix(rest, "phi "):
			body := strings.TrimSpace(strings.TrimPrefix(rest, "phi "))
			var incoming []Value
			for _, tok := range strings.Split(body, ",") {
				v, err := resolve(tok)
				if err != nil {
					return nil, fmt.Errorf("irtext:%d: %w", lineNo, err)
				}
				incoming = append(incoming, v)
			}
			in := b.Phi(incoming...)
			names[bind] = in
		case rest == "ret" || strings.HasPrefix(rest, "ret "):
			val := strings.TrimSpace(strings.TrimPrefix(rest, "ret"))
			if val == "" {
				b.Ret(nil)
			} else {
				v, err := resolve(val)
				if err != nil {
					return nil, fmt.Errorf("irtext:%d: %w", lineNo, err)
				}
				b.Ret(v)
			}
		case strings.HasPrefix(rest, "condbr "):
			body := strings.TrimSpace(strings.TrimPrefix(rest, "condbr "))
			parts := strings.SplitN(body, ",", 3)
			if len(parts) != 3 {
				return nil, fmt.Errorf("irtext:%d: bad condbr %q", lineNo, rest)
			}
			cond, err := resolve(parts[0])
			if err != nil {
				return nil, fmt.Errorf("irtext:%d: %w", lineNo, err)
			}
			t, ok := blocks[strings.TrimSpace(parts[1])]
			if !ok {
				return nil, fmt.Errorf("irtext:%d: unknown block %q", lineNo, parts[1])
			}
			fBlk, ok := blocks[strings.TrimSpace(parts[2])]
			if !ok {
				return nil, fmt.Errorf("irtext:%d: unknown block %q", lineNo, parts[2])
			}
			b.CondBr(cond, t, fBlk)
		case strings.HasPrefix(rest, "br "):
			label := strings.TrimSpace(strings.TrimPrefix(rest, "br "))
			t, ok := blocks[label]
			if !ok {
				return nil, fmt.Errorf("irtext:%d: unknown block %q", lineNo, label)
			}
			b.Br(t)
		default:
			return nil, fmt.Errorf("irtext:%d: unrecognized statement %q", lineNo, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	m.Finalize()
	return m, nil
}

// valueOfVar wraps a bare Var reference used where the grammar allows
// naming a local directly (currently unused by any production but
// kept for forward-compatible extension of the grammar, e.g. taking a
// variable's address). Loads always go through Load explicitly.
func valueOfVar(v *Var) Value { return varValue{v} }

// varValue is never emitted as an operand today (every VALUE position
// in the grammar resolves through an explicit load first, matching
// how clang -O0 IR always dereferences allocas), so it only needs to
// satisfy the Value interface for resolve's uniform return type.
type varValue struct{ v *Var }

func (varValue) isValue() {}

func splitTyped(s string) (string, Type, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return "", TypeOther, fmt.Errorf("expected NAME:Type, got %q", s)
	}
	name := strings.TrimSpace(parts[0])
	switch strings.TrimSpace(parts[1]) {
	case "SEXP":
		return name, TypeSEXP, nil
	case "int":
		return name, TypeInt, nil
	default:
		return name, TypeOther, nil
	}
}

func parsePred(s string) (Pred, error) {
	switch s {
	case "eq":
		return PredEQ, nil
	case "ne":
		return PredNE, nil
	case "lt":
		return PredLT, nil
	case "le":
		return PredLE, nil
	case "gt":
		return PredGT, nil
	case "ge":
		return PredGE, nil
	default:
		return 0, fmt.Errorf("unknown predicate %q", s)
	}
}

func parseCall(s string, resolve func(string) (Value, error)) (string, []Value, error) {
	open := strings.Index(s, "(")
	close := strings.LastIndex(s, ")")
	if open < 0 || close < open {
		return "", nil, fmt.Errorf("bad call syntax %q", s)
	}
	callee := strings.TrimSpace(s[:open])
	argStr := strings.TrimSpace(s[open+1 : close])
	if argStr == "" {
		return callee, nil, nil
	}
	var args []Value
	for _, tok := range strings.Split(argStr, ",") {
		v, err := resolve(tok)
		if err != nil {
			return "", nil, err
		}
		args = append(args, v)
	}
	return callee, args, nil
}
