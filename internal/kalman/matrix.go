package kalman

// Dense row-major matrix routines over caller-supplied buffers.
//
// Shapes are passed explicitly and are never larger than MaxStates×MaxStates.
// Outputs must not alias inputs. Nothing here allocates.

// Add computes C = A + B for m×n matrices.
func Add(a, b []float64, m, n int, c []float64) {
	for i := 0; i < m*n; i++ {
		c[i] = a[i] + b[i]
	}
}

// Subtract computes C = A − B for m×n matrices.
func Subtract(a, b []float64, m, n int, c []float64) {
	for i := 0; i < m*n; i++ {
		c[i] = a[i] - b[i]
	}
}

// Multiply computes C = A·B where A is m×p and B is p×n.
func Multiply(a, b []float64, m, p, n int, c []float64) {
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			sum := 0.0
			for k := 0; k < p; k++ {
				sum += a[p*i+k] * b[n*k+j]
			}
			c[n*i+j] = sum
		}
	}
}

// Multiply3 computes D = A·B·C where A is m×p, B is p×r and C is r×n.
func Multiply3(a, b, c []float64, m, p, r, n int, d []float64) {
	var ab [MaxStates * MaxStates]float64
	if m*r > len(ab) {
		panic("kalman: Multiply3 intermediate exceeds scratch")
	}
	Multiply(a, b, m, p, r, ab[:m*r])
	Multiply(ab[:m*r], c, m, r, n, d)
}

// Transpose writes the n×m transpose of the m×n matrix A into B.
func Transpose(a []float64, m, n int, b []float64) {
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			b[m*j+i] = a[n*i+j]
		}
	}
}

// Invert2x2 writes the closed-form inverse of the 2×2 matrix A into B.
// A singular A yields Inf/NaN entries; callers own that case.
func Invert2x2(a, b []float64) {
	det := a[0]*a[3] - a[1]*a[2]
	b[0] = a[3] / det
	b[1] = -a[1] / det
	b[2] = -a[2] / det
	b[3] = a[0] / det
}
