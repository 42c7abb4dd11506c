package oracles

import "github.com/oss-sast/rchk-go/internal/ir"

// Liveness is a classic backward may-liveness dataflow computed once
// per function: iterate block IN/OUT to a fixpoint, then re-derive
// per-instruction sets on a single backward pass through each block.
// Only Vars are tracked: they are the only IR values with mutable
// storage a later instruction might still need, matching this IR's
// "instruction is its own SSA value" design for everything else.
type Liveness struct {
	liveAfter map[*ir.Instr]map[*ir.Var]bool
}

// Compute runs the analysis over f.
func Compute(f *ir.Function) *Liveness {
	use := map[*ir.BasicBlock]map[*ir.Var]bool{}
	def := map[*ir.BasicBlock]map[*ir.Var]bool{}
	for _, b := range f.Blocks {
		u, d := map[*ir.Var]bool{}, map[*ir.Var]bool{}
		for _, in := range b.Instrs {
			switch in.Op {
			case ir.OpLoad:
				if !d[in.Var] {
					u[in.Var] = true
				}
			case ir.OpStore:
				d[in.Var] = true
			}
		}
		use[b], def[b] = u, d
	}

	in := map[*ir.BasicBlock]map[*ir.Var]bool{}
	out := map[*ir.BasicBlock]map[*ir.Var]bool{}
	for _, b := range f.Blocks {
		in[b] = map[*ir.Var]bool{}
		out[b] = map[*ir.Var]bool{}
	}
	for {
		changed := false
		for i := len(f.Blocks) - 1; i >= 0; i-- {
			b := f.Blocks[i]
			newOut := map[*ir.Var]bool{}
			for _, s := range b.Succs {
				for v := range in[s] {
					newOut[v] = true
				}
			}
			newIn := map[*ir.Var]bool{}
			for v := range use[b] {
				newIn[v] = true
			}
			for v := range newOut {
				if !def[b][v] {
					newIn[v] = true
				}
			}
			if !varSetsEqual(newIn, in[b]) || !varSetsEqual(newOut, out[b]) {
				changed = true
			}
			in[b], out[b] = newIn, newOut
		}
		if !changed {
			break
		}
	}

	l := &Liveness{liveAfter: map[*ir.Instr]map[*ir.Var]bool{}}
	for _, b := range f.Blocks {
		live := map[*ir.Var]bool{}
		for v := range out[b] {
			live[v] = true
		}
		for i := len(b.Instrs) - 1; i >= 0; i-- {
			in := b.Instrs[i]
			snapshot := map[*ir.Var]bool{}
			for v := range live {
				snapshot[v] = true
			}
			l.liveAfter[in] = snapshot
			switch in.Op {
			case ir.OpStore:
				delete(live, in.Var)
			case ir.OpLoad:
				live[in.Var] = true
			}
		}
	}
	return l
}

func varSetsEqual(a, b map[*ir.Var]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for v := range a {
		if !b[v] {
			return false
		}
	}
	return true
}

// PossiblyLiveAfter implements LivenessOracle.
func (l *Liveness) PossiblyLiveAfter(v *ir.Var, at *ir.Instr) bool {
	return l.liveAfter[at][v]
}

// DefinitelyDeadAfter implements LivenessOracle. May-liveness's
// negation is exactly definite deadness: if v cannot be read on any
// path from here, it is dead on every path.
func (l *Liveness) DefinitelyDeadAfter(v *ir.Var, at *ir.Instr) bool {
	return !l.liveAfter[at][v]
}
