package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	// pivotTol is the smallest direction entry accepted by the ratio test.
	pivotTol = 1e-9
	// feasTol is the primal feasibility tolerance, scaled by the largest
	// right-hand side.
	feasTol = 1e-7
	// stallLimit is the number of consecutive degenerate pivots after which
	// pricing switches to Bland's rule.
	stallLimit = 100
	ctxEvery   = 64
)

// sparseCol is one column of the constraint matrix, sorted by row.
type sparseCol struct {
	rows []int
	vals []float64
}

// boundedLP is a linear program in bounded standard form:
//
//	minimize   cost . x
//	subject to A x == b
//	           lower <= x <= upper
//
// A is held by column. Bounds may be infinite.
type boundedLP struct {
	m     int
	cols  []sparseCol
	cost  []float64
	lower []float64
	upper []float64
	b     []float64
}

// standardForm turns the rows of p into equalities: every le row gets a slack
// column bounded to [0, +Inf). The first len(p.cost) columns are p's
// variables.
func standardForm(p *problem) *boundedLP {
	nv := len(p.cost)
	lp := &boundedLP{
		m:     len(p.eq) + len(p.le),
		cols:  make([]sparseCol, nv, nv+len(p.le)),
		cost:  append([]float64(nil), p.cost...),
		lower: append([]float64(nil), p.lower...),
		upper: append([]float64(nil), p.upper...),
	}
	add := func(i int, row constraint) {
		for v, coef := range row.coef {
			if coef == 0 {
				continue
			}
			lp.cols[v].rows = append(lp.cols[v].rows, i)
			lp.cols[v].vals = append(lp.cols[v].vals, coef)
		}
		lp.b = append(lp.b, row.rhs)
	}
	for i, row := range p.eq {
		add(i, row)
	}
	for i, row := range p.le {
		r := len(p.eq) + i
		add(r, row)
		lp.cols = append(lp.cols, sparseCol{rows: []int{r}, vals: []float64{1}})
		lp.cost = append(lp.cost, 0)
		lp.lower = append(lp.lower, 0)
		lp.upper = append(lp.upper, math.Inf(1))
	}
	for j := range lp.cols {
		sortColumn(&lp.cols[j])
	}
	return lp
}

func sortColumn(c *sparseCol) {
	idx := make([]int, len(c.rows))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return c.rows[idx[a]] < c.rows[idx[b]] })
	rows := make([]int, len(idx))
	vals := make([]float64, len(idx))
	for i, k := range idx {
		rows[i], vals[i] = c.rows[k], c.vals[k]
	}
	c.rows, c.vals = rows, vals
}

// revised is the state of a bounded-variable primal revised simplex. Columns
// past len(lp.cols) are the artificial columns sign[i] * e_i of phase one.
type revised struct {
	lp    *boundedLP
	tol   float64
	n     int
	sign  []float64
	cost  []float64
	lower []float64
	upper []float64
	x     []float64
	basis []int
	pos   []int
	// tinv is the transpose of the basis inverse, so that row i of tinv is
	// column i of the inverse.
	tinv    *mat.Dense
	pivots  int
	refresh int
}

// solveBounded minimizes lp and returns the values of its columns.
func solveBounded(ctx context.Context, lp *boundedLP, tol float64) ([]float64, error) {
	for j := range lp.cols {
		if lp.lower[j] > lp.upper[j] {
			return nil, fmt.Errorf("%w: bounds [%v, %v] of column %d", ErrInfeasible, lp.lower[j], lp.upper[j], j)
		}
	}
	if lp.m == 0 {
		return solveUnconstrained(lp)
	}

	s := newRevised(lp, tol)
	if s.infeasibility() > 0 {
		if err := s.iterate(ctx); err != nil {
			if errors.Is(err, ErrUnbounded) {
				return nil, fmt.Errorf("%w: phase one diverged", ErrNumerical)
			}
			return nil, err
		}
		if s.infeasibility() > feasTol*math.Max(1, floats.Norm(lp.b, math.Inf(1))) {
			return nil, ErrInfeasible
		}
	}

	nc := len(lp.cols)
	for j := nc; j < s.n; j++ {
		s.upper[j] = 0
		if s.pos[j] < 0 {
			s.x[j] = 0
		}
	}
	copy(s.cost, lp.cost)
	for j := nc; j < s.n; j++ {
		s.cost[j] = 0
	}
	if err := s.iterate(ctx); err != nil {
		return nil, err
	}
	return s.x[:nc], nil
}

// solveUnconstrained handles a program without rows: every column sits at
// its cheapest bound.
func solveUnconstrained(lp *boundedLP) ([]float64, error) {
	x := make([]float64, len(lp.cols))
	for j, c := range lp.cost {
		switch {
		case c < 0:
			x[j] = lp.upper[j]
		case c > 0:
			x[j] = lp.lower[j]
		default:
			x[j] = startValue(lp.lower[j], lp.upper[j])
		}
		if math.IsInf(x[j], 0) {
			return nil, ErrUnbounded
		}
	}
	return x, nil
}

func startValue(lower, upper float64) float64 {
	switch {
	case !math.IsInf(lower, -1):
		return lower
	case !math.IsInf(upper, 1):
		return upper
	default:
		return 0
	}
}

// newRevised places every column at a bound and builds a feasible starting
// basis from slack columns where they fit and artificial columns elsewhere.
// The phase one cost is set.
func newRevised(lp *boundedLP, tol float64) *revised {
	nc, m := len(lp.cols), lp.m
	s := &revised{
		lp:    lp,
		tol:   tol,
		n:     nc + m,
		sign:  make([]float64, m),
		cost:  make([]float64, nc+m),
		lower: append(append([]float64(nil), lp.lower...), make([]float64, m)...),
		upper: append([]float64(nil), lp.upper...),
		x:     make([]float64, nc+m),
		basis: make([]int, m),
		pos:   make([]int, nc+m),
		tinv:  mat.NewDense(m, m, nil),
	}
	for i := 0; i < m; i++ {
		s.upper = append(s.upper, math.Inf(1))
	}
	for j := range s.pos {
		s.pos[j] = -1
	}

	residual := append([]float64(nil), lp.b...)
	for j := 0; j < nc; j++ {
		s.x[j] = startValue(lp.lower[j], lp.upper[j])
		if s.x[j] == 0 {
			continue
		}
		c := lp.cols[j]
		for k, i := range c.rows {
			residual[i] -= c.vals[k] * s.x[j]
		}
	}

	// A slack column is a unit column with a zero lower bound; it starts
	// basic when the residual of its row is non-negative.
	slackOf := make([]int, m)
	for i := range slackOf {
		slackOf[i] = -1
	}
	for j := 0; j < nc; j++ {
		c := lp.cols[j]
		if len(c.rows) == 1 && c.vals[0] == 1 && lp.lower[j] == 0 && math.IsInf(lp.upper[j], 1) && lp.cost[j] == 0 {
			slackOf[c.rows[0]] = j
		}
	}

	for i := 0; i < m; i++ {
		art := nc + i
		s.sign[i] = 1
		if residual[i] < 0 {
			s.sign[i] = -1
		}
		if j := slackOf[i]; j >= 0 && residual[i] >= 0 {
			s.x[j] += residual[i]
			s.basis[i], s.pos[j] = j, i
			s.sign[i] = 1
			s.upper[art] = 0
			s.tinv.Set(i, i, 1)
			continue
		}
		s.x[art] = math.Abs(residual[i])
		s.cost[art] = 1
		s.basis[i], s.pos[art] = art, i
		s.tinv.Set(i, i, s.sign[i])
	}
	s.refresh = max(100, m)
	return s
}

func (s *revised) column(j int) ([]int, []float64) {
	if nc := len(s.lp.cols); j >= nc {
		i := j - nc
		return []int{i}, []float64{s.sign[i]}
	}
	c := s.lp.cols[j]
	return c.rows, c.vals
}

// infeasibility is the sum of the artificial values.
func (s *revised) infeasibility() float64 {
	return floats.Sum(s.x[len(s.lp.cols):])
}

// iterate runs simplex pivots on the current cost until no column prices
// out.
func (s *revised) iterate(ctx context.Context) error {
	limit := 50 * (s.n + s.lp.m)
	stalled := 0
	m := s.lp.m
	y := mat.NewVecDense(m, nil)
	cb := mat.NewVecDense(m, nil)
	w := make([]float64, m)

	for iter := 0; ; iter++ {
		if iter%ctxEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if iter >= limit {
			return fmt.Errorf("%w: no optimum after %d iterations", ErrNumerical, iter)
		}
		if s.pivots >= s.refresh {
			if err := s.refactor(); err != nil {
				return err
			}
		}

		for k, j := range s.basis {
			cb.SetVec(k, s.cost[j])
		}
		y.MulVec(s.tinv, cb)

		bland := stalled >= stallLimit
		q, dir := s.price(y.RawVector().Data, bland)
		if q < 0 {
			return nil
		}
		s.ftran(q, w)
		step, leave, toUpper := s.ratio(q, dir, w, bland)
		if math.IsInf(step, 1) {
			return ErrUnbounded
		}

		if step > 0 {
			s.x[q] += dir * step
			for k, j := range s.basis {
				s.x[j] -= dir * step * w[k]
			}
			stalled = 0
		} else {
			stalled++
		}

		if leave < 0 {
			if dir > 0 {
				s.x[q] = s.upper[q]
			} else {
				s.x[q] = s.lower[q]
			}
			continue
		}
		out := s.basis[leave]
		if toUpper {
			s.x[out] = s.upper[out]
		} else {
			s.x[out] = s.lower[out]
		}
		if out >= len(s.lp.cols) {
			s.upper[out] = 0
			s.x[out] = 0
		}
		s.pos[out] = -1
		s.basis[leave], s.pos[q] = q, leave
		s.pivot(leave, w)
	}
}

// price returns the entering column and its direction of travel, or -1 when
// the basis is optimal. Dantzig's rule picks the largest reduced cost;
// Bland's rule picks the lowest eligible index.
func (s *revised) price(y []float64, bland bool) (int, float64) {
	best, q, dir := 0.0, -1, 0.0
	for j := 0; j < s.n; j++ {
		if s.pos[j] >= 0 || s.lower[j] == s.upper[j] {
			continue
		}
		rows, vals := s.column(j)
		d := s.cost[j]
		for k, i := range rows {
			d -= y[i] * vals[k]
		}
		var score, sign float64
		switch {
		case d < -s.tol && s.x[j] < s.upper[j]-s.tol:
			score, sign = -d, 1
		case d > s.tol && s.x[j] > s.lower[j]+s.tol:
			score, sign = d, -1
		default:
			continue
		}
		if bland {
			return j, sign
		}
		if score > best {
			best, q, dir = score, j, sign
		}
	}
	return q, dir
}

// ftran writes B^-1 a_q into w.
func (s *revised) ftran(q int, w []float64) {
	for k := range w {
		w[k] = 0
	}
	rows, vals := s.column(q)
	for k, i := range rows {
		floats.AddScaled(w, vals[k], s.tinv.RawRowView(i))
	}
}

// ratio finds the largest step along dir for column q. leave is -1 when the
// entering column reaches its own opposite bound first.
func (s *revised) ratio(q int, dir float64, w []float64, bland bool) (step float64, leave int, toUpper bool) {
	step, leave = s.upper[q]-s.lower[q], -1
	for k, j := range s.basis {
		delta := -dir * w[k]
		var r float64
		switch {
		case delta < -pivotTol && !math.IsInf(s.lower[j], -1):
			r = (s.x[j] - s.lower[j]) / -delta
		case delta > pivotTol && !math.IsInf(s.upper[j], 1):
			r = (s.upper[j] - s.x[j]) / delta
		default:
			continue
		}
		r = math.Max(r, 0)
		better := r < step
		if !better && leave >= 0 && r == step {
			if bland {
				better = j < s.basis[leave]
			} else {
				better = math.Abs(w[k]) > math.Abs(w[leave])
			}
		}
		if better {
			step, leave, toUpper = r, k, delta > 0
		}
	}
	return step, leave, toUpper
}

// pivot replaces basis position leave in the inverse, given the direction w
// of the entering column.
func (s *revised) pivot(leave int, w []float64) {
	pw := w[leave]
	m := s.lp.m
	for i := 0; i < m; i++ {
		row := s.tinv.RawRowView(i)
		ck := row[leave] / pw
		if ck == 0 {
			continue
		}
		floats.AddScaled(row, -ck, w)
		row[leave] = ck
	}
	s.pivots++
}

// refactor recomputes the basis inverse from scratch and the basic values
// from the nonbasic ones.
func (s *revised) refactor() error {
	m := s.lp.m
	bt := mat.NewDense(m, m, nil)
	for k, j := range s.basis {
		rows, vals := s.column(j)
		for t, i := range rows {
			bt.Set(k, i, vals[t])
		}
	}
	var inv mat.Dense
	if err := inv.Inverse(bt); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return fmt.Errorf("%w: basis: %v", ErrNumerical, err)
		}
	}
	s.tinv = &inv

	residual := append([]float64(nil), s.lp.b...)
	for j := 0; j < s.n; j++ {
		if s.pos[j] >= 0 || s.x[j] == 0 {
			continue
		}
		rows, vals := s.column(j)
		for t, i := range rows {
			residual[i] -= vals[t] * s.x[j]
		}
	}
	var xb mat.VecDense
	xb.MulVec(s.tinv.T(), mat.NewVecDense(m, residual))
	for k, j := range s.basis {
		s.x[j] = xb.AtVec(k)
	}
	s.pivots = 0
	return nil
}
