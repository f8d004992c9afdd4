package match

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"gonum.org/v1/gonum/mat"
)

const (
	// minimalSample is the number of correspondences that determine a
	// fundamental matrix with the linear 8-point algorithm.
	minimalSample = 8

	// nullspaceTolerance bounds the ratio between the second smallest and the
	// largest eigenvalue of the normal matrix. Below it the null space has
	// more than one dimension and the fit is not unique.
	nullspaceTolerance = 1e-12

	// minSpread is the smallest mean distance to the centroid (px) that still
	// allows Hartley normalization.
	minSpread = 1e-9
)

// ResidualKind selects the point-to-model distance used to classify inliers.
type ResidualKind string

const (
	// ResidualSymmetric is the larger of the two squared point-to-epipolar-line
	// distances, one per image.
	ResidualSymmetric ResidualKind = "symmetric"
	// ResidualSampson is the first-order approximation of the squared
	// geometric reprojection error.
	ResidualSampson ResidualKind = "sampson"
)

// hartleyTransform returns the similarity transform that moves the centroid
// of pts to the origin and scales their mean distance to sqrt(2).
func hartleyTransform(pts []orb.Point) (*mat.Dense, error) {
	centroid, _ := planar.CentroidArea(orb.MultiPoint(pts))

	var spread float64
	for _, p := range pts {
		spread += planar.Distance(p, centroid)
	}
	spread /= float64(len(pts))
	if !finite(spread) || spread < minSpread {
		return nil, fmt.Errorf("%w: points coincide", ErrDegenerateGeometry)
	}

	s := math.Sqrt2 / spread
	return mat.NewDense(3, 3, []float64{
		s, 0, -s * centroid[0],
		0, s, -s * centroid[1],
		0, 0, 1,
	}), nil
}

func applyTransform(t *mat.Dense, p orb.Point) (float64, float64) {
	return t.At(0, 0)*p[0] + t.At(0, 1)*p[1] + t.At(0, 2),
		t.At(1, 0)*p[0] + t.At(1, 1)*p[1] + t.At(1, 2)
}

// eightPoint fits F with candidateᵀ·F·query = 0 using the normalized 8-point
// algorithm. With more than eight pairs the result is the algebraic least
// squares solution. The returned matrix has rank 2 and unit Frobenius norm.
func eightPoint(query, candidate []orb.Point) (Matrix3, error) {
	if len(query) < minimalSample {
		return Matrix3{}, fmt.Errorf("%w: %d correspondences", ErrDegenerateGeometry, len(query))
	}

	t1, err := hartleyTransform(query)
	if err != nil {
		return Matrix3{}, err
	}
	t2, err := hartleyTransform(candidate)
	if err != nil {
		return Matrix3{}, err
	}

	// Accumulate AᵀA directly so large sets never materialize the n×9 design
	// matrix.
	var normal [9][9]float64
	var row [9]float64
	for i := range query {
		u1, v1 := applyTransform(t1, query[i])
		u2, v2 := applyTransform(t2, candidate[i])
		row = [9]float64{u2 * u1, u2 * v1, u2, v2 * u1, v2 * v1, v2, u1, v1, 1}
		for r := 0; r < 9; r++ {
			for c := r; c < 9; c++ {
				normal[r][c] += row[r] * row[c]
			}
		}
	}
	sym := mat.NewSymDense(9, nil)
	for r := 0; r < 9; r++ {
		for c := r; c < 9; c++ {
			sym.SetSym(r, c, normal[r][c])
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(sym, true) {
		return Matrix3{}, fmt.Errorf("%w: eigendecomposition did not converge", ErrDegenerateGeometry)
	}
	values := eig.Values(nil) // ascending
	largest := values[len(values)-1]
	if largest <= 0 || values[1]/largest < nullspaceTolerance {
		return Matrix3{}, fmt.Errorf("%w: solution is not unique", ErrDegenerateGeometry)
	}
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	fn := mat.NewDense(3, 3, nil)
	for k := 0; k < 9; k++ {
		fn.Set(k/3, k%3, vectors.At(k, 0))
	}

	rank2, err := enforceRank2(fn)
	if err != nil {
		return Matrix3{}, err
	}

	// Undo normalization: F = T2ᵀ·F̂·T1.
	var f mat.Dense
	f.Product(t2.T(), rank2, t1)

	norm := mat.Norm(&f, 2)
	if !finite(norm) || norm == 0 {
		return Matrix3{}, fmt.Errorf("%w: vanishing fundamental matrix", ErrDegenerateGeometry)
	}
	f.Scale(1/norm, &f)

	var out Matrix3
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r][c] = f.At(r, c)
		}
	}
	return out, nil
}

// enforceRank2 zeroes the smallest singular value of f.
func enforceRank2(f *mat.Dense) (*mat.Dense, error) {
	var svd mat.SVD
	if !svd.Factorize(f, mat.SVDFull) {
		return nil, fmt.Errorf("%w: SVD did not converge", ErrDegenerateGeometry)
	}
	s := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var out mat.Dense
	out.Product(&u, mat.NewDiagDense(3, []float64{s[0], s[1], 0}), v.T())
	return &out, nil
}

// epipolarResidual returns the squared distance (px²) of the pair (p1, p2)
// from the model F.
func epipolarResidual(f *Matrix3, p1, p2 orb.Point, kind ResidualKind) float64 {
	// Epipolar line of p1 in the candidate image.
	a := f[0][0]*p1[0] + f[0][1]*p1[1] + f[0][2]
	b := f[1][0]*p1[0] + f[1][1]*p1[1] + f[1][2]
	c := f[2][0]*p1[0] + f[2][1]*p1[1] + f[2][2]
	// Epipolar line of p2 in the query image.
	at := f[0][0]*p2[0] + f[1][0]*p2[1] + f[2][0]
	bt := f[0][1]*p2[0] + f[1][1]*p2[1] + f[2][1]

	e := p2[0]*a + p2[1]*b + c
	e2 := e * e

	if kind == ResidualSampson {
		den := a*a + b*b + at*at + bt*bt
		if den <= 0 {
			return math.Inf(1)
		}
		return e2 / den
	}

	d2 := a*a + b*b
	d1 := at*at + bt*bt
	if d1 <= 0 || d2 <= 0 {
		return math.Inf(1)
	}
	return math.Max(e2/d1, e2/d2)
}
