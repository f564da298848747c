package core

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// WLSResult is the output of a weighted least squares solve.
type WLSResult struct {
	// State is x = (G'WG)^-1 G'W y.
	State *mat.VecDense
	// Covariance is (G'WG)^-1 with W = Sigma^-1.
	Covariance *mat.Dense
	// Gain is S = (G'WG)^-1 G'W, so that State = S y.
	Gain *mat.Dense
}

// SolveWLS solves the weighted least squares problem for geometry g (m x n),
// diagonal pseudorange covariance sigma (m x m) and residuals y (m).
// It fails with ErrGeometry when m < n or g is not of full column rank.
func SolveWLS(g mat.Matrix, sigma mat.Diagonal, y []float64) (*WLSResult, error) {
	m, n := g.Dims()
	if m < n {
		return nil, fmt.Errorf("%w: %d measurements for %d states", ErrGeometry, m, n)
	}
	if sigma.Diag() != m || len(y) != m {
		return nil, fmt.Errorf("%w: covariance %d and residual %d do not match %d rows", ErrConfig, sigma.Diag(), len(y), m)
	}

	gtw := mat.NewDense(n, m, nil)
	for j := 0; j < m; j++ {
		v := sigma.At(j, j)
		if !(v > 0) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-positive variance %g on row %d", ErrNumerical, v, j)
		}
		w := 1 / v
		for i := 0; i < n; i++ {
			gtw.Set(i, j, g.At(j, i)*w)
		}
	}

	var normal mat.Dense
	normal.Mul(gtw, g)

	var cov mat.Dense
	if err := cov.Inverse(&normal); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeometry, err)
	}

	var gain mat.Dense
	gain.Mul(&cov, gtw)

	state := mat.NewVecDense(n, nil)
	state.MulVec(&gain, mat.NewVecDense(m, append([]float64(nil), y...)))

	return &WLSResult{State: state, Covariance: &cov, Gain: &gain}, nil
}
