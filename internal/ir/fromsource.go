package ir

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
)

// FromCSource parses a single C translation unit and lowers every
// function definition it finds into the IR. It is deliberately
// conservative: constructs it does not recognize lower to an opaque
// instruction rather than aborting the whole parse, giving the
// analysis something to run on and letting imprecision show up as
// unknown states rather than as a hard failure.
func FromCSource(filename string, src []byte) (*Module, error) {
	return fromSource(filename, src, c.GetLanguage())
}

// FromCppSource is the same lowering pass selecting the cpp grammar,
// for native extensions written in C++ (a real rchk target: many
// CRAN/Bioconductor packages mix .c and .cpp translation units).
func FromCppSource(filename string, src []byte) (*Module, error) {
	return fromSource(filename, src, cpp.GetLanguage())
}

func fromSource(filename string, src []byte, lang *sitter.Language) (*Module, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(lang)
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, fmt.Errorf("ir: parsing %s: %w", filename, err)
	}
	root := tree.RootNode()
	m := NewModule(filename)
	l := &lowerer{src: src, mod: m}
	l.walkTopLevel(root)
	m.Finalize()
	return m, nil
}

type lowerer struct {
	src []byte
	mod *Module

	f       *Function
	cur     *BasicBlock
	vars    map[string]*Var
	loopEnd []*BasicBlock // break target stack
}

func (l *lowerer) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(l.src)
}

func (l *lowerer) walkTopLevel(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == "function_definition" {
			l.lowerFunction(child)
		}
	}
}

func (l *lowerer) lowerFunction(n *sitter.Node) {
	declarator := n.ChildByFieldName("declarator")
	fnDecl, name := l.unwrapFunctionDeclarator(declarator)
	if fnDecl == nil || name == "" {
		return // not a plain function definition (macro-generated signature, etc.) — skip conservatively
	}
	body := n.ChildByFieldName("body")
	if body == nil {
		return
	}

	f := l.mod.NewFunction(name)
	l.f = f
	l.vars = map[string]*Var{}
	l.loopEnd = nil

	params := fnDecl.ChildByFieldName("parameters")
	if params != nil {
		for i := 0; i < int(params.NamedChildCount()); i++ {
			p := params.NamedChild(i)
			if p.Type() != "parameter_declaration" {
				continue
			}
			pname, ptyp := l.declName(p)
			if pname == "" {
				continue
			}
			v := f.NewVar(pname, ptyp, true)
			l.vars[pname] = v
		}
	}

	entry := f.NewBlock("entry")
	l.cur = entry
	l.lowerCompound(body)
	l.terminateFallthrough(nil)
}

// unwrapFunctionDeclarator walks past pointer_declarator wrappers
// (e.g. "SEXP *foo(...)") to find the function_declarator and the
// plain function name.
func (l *lowerer) unwrapFunctionDeclarator(n *sitter.Node) (*sitter.Node, string) {
	for n != nil {
		switch n.Type() {
		case "function_declarator":
			ident := n.ChildByFieldName("declarator")
			if ident == nil {
				return n, ""
			}
			return n, ident.Content(l.src)
		case "pointer_declarator":
			n = n.ChildByFieldName("declarator")
		default:
			return nil, ""
		}
	}
	return nil, ""
}

// declName extracts a declared identifier and a coarse Type from a
// parameter_declaration or declaration node, unwrapping pointer
// declarators (SEXP is always used through a pointer in real headers,
// but rchk-style sources typedef it as a value type — either shape
// resolves to TypeSEXP here since both name the same thing usage-wise).
func (l *lowerer) declName(n *sitter.Node) (string, Type) {
	typeNode := n.ChildByFieldName("type")
	typ := classifyType(l.text(typeNode))
	decl := n.ChildByFieldName("declarator")
	for decl != nil {
		switch decl.Type() {
		case "identifier":
			return decl.Content(l.src), typ
		case "pointer_declarator", "init_declarator":
			decl = decl.ChildByFieldName("declarator")
		default:
			return "", typ
		}
	}
	return "", typ
}

func classifyType(s string) Type {
	switch s {
	case "SEXP":
		return TypeSEXP
	case "int", "unsigned", "long", "size_t", "R_xlen_t", "Rboolean", "double":
		return TypeInt
	default:
		return TypeOther
	}
}

func (l *lowerer) lowerCompound(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		l.lowerStmt(n.NamedChild(i))
	}
}

// terminateFallthrough closes the current block with a Ret if it
// wasn't already closed by an explicit return/break, used at the end
// of a function body and after a loop/if whose branches all merge.
func (l *lowerer) terminateFallthrough(retVal Value) {
	if l.cur == nil || l.cur.Term() != nil {
		return
	}
	l.cur.Ret(retVal)
}

func (l *lowerer) lowerStmt(n *sitter.Node) {
	if n == nil || l.cur == nil || l.cur.Term() != nil {
		return // block already closed (e.g. code after an unconditional return); conservative dead-code skip
	}
	switch n.Type() {
	case "compound_statement":
		l.lowerCompound(n)
	case "declaration":
		l.lowerDeclaration(n)
	case "expression_statement":
		if n.NamedChildCount() > 0 {
			l.lowerExpr(n.NamedChild(0))
		}
	case "if_statement":
		l.lowerIf(n)
	case "while_statement":
		l.lowerWhile(n)
	case "for_statement":
		l.lowerFor(n)
	case "return_statement":
		var val Value
		if n.NamedChildCount() > 0 {
			val = l.lowerExpr(n.NamedChild(0))
		}
		l.cur.Ret(val)
	case "break_statement":
		if len(l.loopEnd) > 0 {
			l.cur.Br(l.loopEnd[len(l.loopEnd)-1])
		}
	case ";":
	default:
		// Unmodeled statement kind (switch, goto, comma expressions,
		// nested struct/union decls, ...): emit an opaque marker so
		// downstream analysis sees "something happened here" instead
		// of silently skipping a side effect.
		l.cur.append(&Instr{Op: OpOpaque})
	}
}

func (l *lowerer) lowerDeclaration(n *sitter.Node) {
	typeNode := n.ChildByFieldName("type")
	typ := classifyType(l.text(typeNode))
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "init_declarator":
			decl := child.ChildByFieldName("declarator")
			name := l.unwrapPlainIdent(decl)
			if name == "" {
				continue
			}
			v := l.f.NewVar(name, typ, false)
			l.vars[name] = v
			if val := child.ChildByFieldName("value"); val != nil {
				rv := l.lowerExpr(val)
				l.cur.Store(v, rv)
			}
		case "identifier":
			name := child.Content(l.src)
			v := l.f.NewVar(name, typ, false)
			l.vars[name] = v
		}
	}
}

func (l *lowerer) unwrapPlainIdent(n *sitter.Node) string {
	for n != nil {
		switch n.Type() {
		case "identifier":
			return n.Content(l.src)
		case "pointer_declarator":
			n = n.ChildByFieldName("declarator")
		default:
			return ""
		}
	}
	return ""
}

func (l *lowerer) lowerIf(n *sitter.Node) {
	cond := l.lowerCond(n.ChildByFieldName("condition"))
	thenN := n.ChildByFieldName("consequence")
	elseN := n.ChildByFieldName("alternative")

	thenBB := l.f.NewBlock(fmt.Sprintf("if.then.%d", l.f.nextBBID))
	mergeBB := l.f.NewBlock(fmt.Sprintf("if.end.%d", l.f.nextBBID))
	var elseBB *BasicBlock
	if elseN != nil {
		elseBB = l.f.NewBlock(fmt.Sprintf("if.else.%d", l.f.nextBBID))
		l.cur.CondBr(cond, thenBB, elseBB)
	} else {
		l.cur.CondBr(cond, thenBB, mergeBB)
	}

	l.cur = thenBB
	l.lowerStmt(thenN)
	l.terminateBranchInto(mergeBB)

	if elseN != nil {
		l.cur = elseBB
		l.lowerStmt(elseN)
		l.terminateBranchInto(mergeBB)
	}

	l.cur = mergeBB
}

// terminateBranchInto closes the current block with an unconditional
// jump to target unless it was already closed by a return/break
// inside the branch body.
func (l *lowerer) terminateBranchInto(target *BasicBlock) {
	if l.cur.Term() != nil {
		return
	}
	l.cur.Br(target)
}

func (l *lowerer) lowerWhile(n *sitter.Node) {
	headBB := l.f.NewBlock(fmt.Sprintf("while.cond.%d", l.f.nextBBID))
	bodyBB := l.f.NewBlock(fmt.Sprintf("while.body.%d", l.f.nextBBID))
	exitBB := l.f.NewBlock(fmt.Sprintf("while.end.%d", l.f.nextBBID))

	l.terminateBranchInto(headBB)
	l.cur = headBB
	cond := l.lowerCond(n.ChildByFieldName("condition"))
	l.cur.CondBr(cond, bodyBB, exitBB)

	l.loopEnd = append(l.loopEnd, exitBB)
	l.cur = bodyBB
	l.lowerStmt(n.ChildByFieldName("body"))
	l.terminateBranchInto(headBB)
	l.loopEnd = l.loopEnd[:len(l.loopEnd)-1]

	l.cur = exitBB
}

func (l *lowerer) lowerFor(n *sitter.Node) {
	if init := n.ChildByFieldName("initializer"); init != nil {
		l.lowerExpr(init)
	}
	headBB := l.f.NewBlock(fmt.Sprintf("for.cond.%d", l.f.nextBBID))
	bodyBB := l.f.NewBlock(fmt.Sprintf("for.body.%d", l.f.nextBBID))
	exitBB := l.f.NewBlock(fmt.Sprintf("for.end.%d", l.f.nextBBID))

	l.terminateBranchInto(headBB)
	l.cur = headBB
	if condN := n.ChildByFieldName("condition"); condN != nil {
		cond := l.lowerCond(condN)
		l.cur.CondBr(cond, bodyBB, exitBB)
	} else {
		l.cur.Br(bodyBB)
	}

	l.loopEnd = append(l.loopEnd, exitBB)
	l.cur = bodyBB
	l.lowerStmt(n.ChildByFieldName("body"))
	if update := n.ChildByFieldName("update"); update != nil && l.cur.Term() == nil {
		l.lowerExpr(update)
	}
	l.terminateBranchInto(headBB)
	l.loopEnd = l.loopEnd[:len(l.loopEnd)-1]

	l.cur = exitBB
}

// lowerCond lowers an expression used in boolean context. A bare
// pointer/int value (e.g. "if (x)") is turned into an explicit
// "!= 0" comparison so the int/SEXP guard trackers always see an
// ICmp to pattern-match against, matching how the checker's guard
// recognizers are written against comparison instructions rather than
// truthiness of an arbitrary value.
func (l *lowerer) lowerCond(n *sitter.Node) Value {
	if n != nil && n.Type() == "parenthesized_expression" && n.NamedChildCount() == 1 {
		n = n.NamedChild(0)
	}
	v := l.lowerExpr(n)
	if in, ok := v.(*Instr); ok && in.Op == OpICmp {
		return v
	}
	return l.cur.ICmp(PredNE, v, ConstInt{0})
}

func (l *lowerer) lowerExpr(n *sitter.Node) Value {
	if n == nil {
		return ConstInt{0}
	}
	switch n.Type() {
	case "parenthesized_expression":
		if n.NamedChildCount() == 1 {
			return l.lowerExpr(n.NamedChild(0))
		}
	case "identifier":
		name := n.Content(l.src)
		if v, ok := l.vars[name]; ok {
			return l.cur.Load(v)
		}
		return l.mod.Global(name, TypeOther)
	case "number_literal":
		var val int64
		fmt.Sscanf(n.Content(l.src), "%d", &val)
		return ConstInt{Val: val}
	case "null":
		return l.mod.Global("R_NilValue", TypeSEXP)
	case "string_literal":
		return ConstSym{Name: n.Content(l.src)}
	case "call_expression":
		fn := n.ChildByFieldName("function")
		callee := fn.Content(l.src)
		argsNode := n.ChildByFieldName("arguments")
		var args []Value
		if argsNode != nil {
			for i := 0; i < int(argsNode.NamedChildCount()); i++ {
				args = append(args, l.lowerExpr(argsNode.NamedChild(i)))
			}
		}
		return l.cur.Call(callee, args...)
	case "assignment_expression":
		lhs := n.ChildByFieldName("left")
		rhs := n.ChildByFieldName("right")
		rv := l.lowerExpr(rhs)
		if lhs != nil && lhs.Type() == "identifier" {
			name := lhs.Content(l.src)
			if v, ok := l.vars[name]; ok {
				l.cur.Store(v, rv)
			}
		}
		return rv
	case "binary_expression":
		left := n.ChildByFieldName("left")
		right := n.ChildByFieldName("right")
		op := binaryOperator(n, l.src)
		lv := l.lowerExpr(left)
		rv := l.lowerExpr(right)
		if pred, ok := cmpPred(op); ok {
			return l.cur.ICmp(pred, lv, rv)
		}
		return l.cur.Bin(op, lv, rv)
	case "unary_expression":
		op := n.Child(0).Content(l.src)
		operand := n.ChildByFieldName("argument")
		v := l.lowerExpr(operand)
		if op == "!" {
			return l.cur.ICmp(PredEQ, v, ConstInt{0})
		}
		return l.cur.Bin(op, v, ConstInt{0})
	case "field_expression", "subscript_expression", "cast_expression":
		// Best-effort: lower the inner operand for its side effects
		// (e.g. a call inside a cast) and otherwise treat the whole
		// expression as opaque.
		for i := 0; i < int(n.NamedChildCount()); i++ {
			l.lowerExpr(n.NamedChild(i))
		}
		return l.cur.append(&Instr{Op: OpOpaque})
	}
	return l.cur.append(&Instr{Op: OpOpaque})
}

func binaryOperator(n *sitter.Node, src []byte) string {
	if op := n.ChildByFieldName("operator"); op != nil {
		return op.Content(src)
	}
	if n.ChildCount() >= 3 {
		return n.Child(1).Content(src)
	}
	return "?"
}

func cmpPred(op string) (Pred, bool) {
	switch op {
	case "==":
		return PredEQ, true
	case "!=":
		return PredNE, true
	case "<":
		return PredLT, true
	case "<=":
		return PredLE, true
	case ">":
		return PredGT, true
	case ">=":
		return PredGE, true
	default:
		return 0, false
	}
}
