package positioning

import (
	"context"
	"math"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"gonum.org/v1/gonum/mat"
)

// AffinityParams tunes affinity propagation.
type AffinityParams struct {
	Damping       float64
	MaxIterations int
	Epsilon       float64
}

// Clustering is the result of affinity propagation. Labels[i] indexes into
// Exemplars, or is -1 when no exemplar emerged.
type Clustering struct {
	Exemplars  []int
	Labels     []int
	Iterations int
	Converged  bool
}

// Members returns the point indices assigned to the exemplar at position e in Exemplars.
func (c Clustering) Members(e int) []int {
	var out []int
	for i, l := range c.Labels {
		if l == e {
			out = append(out, i)
		}
	}
	return out
}

// affinityWorkspace holds the dense matrices reused between clustering runs.
type affinityWorkspace struct {
	sim, resp, avail, respOld, availOld *mat.Dense
	colPos, diag                        []float64
	offDiag                             []float64
}

// dense returns an n×n matrix backed by buf's storage when it is large enough.
func dense(buf *mat.Dense, n int) *mat.Dense {
	if buf != nil {
		raw := buf.RawMatrix()
		if cap(raw.Data) >= n*n {
			data := raw.Data[:n*n]
			clear(data)
			return mat.NewDense(n, n, data)
		}
	}
	return mat.NewDense(n, n, nil)
}

func (ws *affinityWorkspace) reset(n int) {
	ws.sim = dense(ws.sim, n)
	ws.resp = dense(ws.resp, n)
	ws.avail = dense(ws.avail, n)
	ws.respOld = dense(ws.respOld, n)
	ws.availOld = dense(ws.availOld, n)
	if cap(ws.colPos) < n {
		ws.colPos = make([]float64, n)
	}
	ws.colPos = ws.colPos[:n]
	if cap(ws.diag) < n {
		ws.diag = make([]float64, n)
	}
	ws.diag = ws.diag[:n]
	ws.offDiag = ws.offDiag[:0]
}

// AffinityPropagation clusters points by exchanging responsibility and
// availability messages. Similarity is the negative squared planar distance;
// every point's self-similarity (preference) is the median of the non-zero
// off-diagonal similarities, counting both (i,j) and (j,i).
//
// Iteration stops once no message moves by Epsilon or more, after
// MaxIterations, or when ctx is done.
func AffinityPropagation(ctx context.Context, points []orb.Point, p AffinityParams) (Clustering, error) {
	var ws affinityWorkspace
	return affinityPropagation(ctx, points, p, &ws)
}

func affinityPropagation(ctx context.Context, points []orb.Point, p AffinityParams, ws *affinityWorkspace) (Clustering, error) {
	n := len(points)
	switch n {
	case 0:
		return Clustering{Converged: true}, nil
	case 1:
		return Clustering{Exemplars: []int{0}, Labels: []int{0}, Converged: true}, nil
	}

	ws.reset(n)
	s := ws.sim.RawMatrix().Data
	r := ws.resp.RawMatrix().Data
	a := ws.avail.RawMatrix().Data
	rOld := ws.respOld.RawMatrix().Data
	aOld := ws.availOld.RawMatrix().Data

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			v := -planar.DistanceSquared(points[i], points[j])
			s[i*n+j] = v
			if v != 0 {
				ws.offDiag = append(ws.offDiag, v)
			}
		}
	}
	pref := median(ws.offDiag)
	for i := 0; i < n; i++ {
		s[i*n+i] = pref
	}

	result := Clustering{}
	for result.Iterations < p.MaxIterations {
		if err := ctx.Err(); err != nil {
			return Clustering{}, err
		}

		// the previous messages move to the old buffers; both updates fully
		// overwrite the current ones
		r, rOld = rOld, r
		a, aOld = aOld, a
		updateResponsibilities(s, aOld, r, ws.colPos, ws.diag, n)
		delta := updateAvailabilities(r, rOld, a, aOld, ws.colPos, ws.diag, n, p.Damping)

		result.Iterations++

		if delta < p.Epsilon {
			result.Converged = true
			break
		}
	}

	for i := 0; i < n; i++ {
		if r[i*n+i]+a[i*n+i] > 0 {
			result.Exemplars = append(result.Exemplars, i)
		}
	}

	result.Labels = make([]int, n)
	for i := 0; i < n; i++ {
		if e := slices.Index(result.Exemplars, i); e >= 0 {
			result.Labels[i] = e
			continue
		}
		best := -1
		bestSim := math.Inf(-1)
		for e, k := range result.Exemplars {
			if v := s[i*n+k]; v > bestSim {
				bestSim = v
				best = e
			}
		}
		result.Labels[i] = best
	}

	return result, nil
}

// updateResponsibilities sets r[i][k] = s[i][k] - max_{k'!=k}(s[i][k'] + a[i][k']).
// The row maximum and runner-up make each row linear instead of quadratic.
// It also collects what the availability update needs, walking r row by row:
// the positive column sums excluding the diagonal, and the diagonal itself.
func updateResponsibilities(s, a, r, colPos, diag []float64, n int) {
	clear(colPos)
	for i := 0; i < n; i++ {
		row := i * n
		first, second := math.Inf(-1), math.Inf(-1)
		argFirst := -1
		for k := 0; k < n; k++ {
			v := s[row+k] + a[row+k]
			if v > first {
				second = first
				first = v
				argFirst = k
			} else if v > second {
				second = v
			}
		}
		for k := 0; k < n; k++ {
			m := first
			if k == argFirst {
				m = second
			}
			v := s[row+k] - m
			r[row+k] = v
			if k != i && v > 0 {
				colPos[k] += v
			}
		}
		diag[i] = r[row+i]
	}
}

// updateAvailabilities applies the standard availability rule to the
// undamped responsibilities:
//
//	a[i][k] = min(0, r[k][k] + sum_{i' not in {i,k}} max(0, r[i'][k]))  for i != k
//	a[k][k] = sum_{i' != k} max(0, r[i'][k])
//
// In the same pass it damps both matrices, value = (1-damping)*new +
// damping*previous, and returns the largest change of any message.
func updateAvailabilities(r, rPrev, a, aPrev, colPos, diag []float64, n int, damping float64) float64 {
	var delta float64
	for i := 0; i < n; i++ {
		row := i * n
		rRow, rPrevRow := r[row:row+n], rPrev[row:row+n]
		aRow, aPrevRow := a[row:row+n], aPrev[row:row+n]
		for k, raw := range rRow {
			next := colPos[k]
			if i != k {
				pos := raw
				if pos < 0 {
					pos = 0
				}
				next = diag[k] + colPos[k] - pos
				if next > 0 {
					next = 0
				}
			}

			rv := (1-damping)*raw + damping*rPrevRow[k]
			av := (1-damping)*next + damping*aPrevRow[k]
			if d := abs(rv - rPrevRow[k]); d > delta {
				delta = d
			}
			if d := abs(av - aPrevRow[k]); d > delta {
				delta = d
			}
			rRow[k] = rv
			aRow[k] = av
		}
	}
	return delta
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// median of values; even counts average the two middle values. Sorts in place.
func median(values []float64) float64 {
	if len(values) == 0 {
		return minSimilarity
	}
	slices.Sort(values)
	mid := len(values) / 2
	if len(values)%2 == 0 {
		return (values[mid-1] + values[mid]) / 2
	}
	return values[mid]
}
