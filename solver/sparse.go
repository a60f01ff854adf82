package solver

// Sparse is a compressed sparse row matrix.
type Sparse struct {
	rows, cols int
	rowPtr     []int
	colIdx     []int
	val        []float64
}

func (s *Sparse) Rows() int { return s.rows }
func (s *Sparse) Cols() int { return s.cols }
func (s *Sparse) NNZ() int  { return len(s.val) }

// At returns the entry (i, j). Duplicate entries in a row are summed.
func (s *Sparse) At(i, j int) float64 {
	var v float64
	for k := s.rowPtr[i]; k < s.rowPtr[i+1]; k++ {
		if s.colIdx[k] == j {
			v += s.val[k]
		}
	}
	return v
}

// MulVec writes S*x into dst.
func (s *Sparse) MulVec(dst, x []float64) {
	for i := 0; i < s.rows; i++ {
		var sum float64
		for k := s.rowPtr[i]; k < s.rowPtr[i+1]; k++ {
			sum += s.val[k] * x[s.colIdx[k]]
		}
		dst[i] = sum
	}
}

// MulTransVec writes Sᵀ*y into dst.
func (s *Sparse) MulTransVec(dst, y []float64) {
	clear(dst[:s.cols])
	for i := 0; i < s.rows; i++ {
		yi := y[i]
		if yi == 0 {
			continue
		}
		for k := s.rowPtr[i]; k < s.rowPtr[i+1]; k++ {
			dst[s.colIdx[k]] += s.val[k] * yi
		}
	}
}

// Transpose returns a new matrix holding Sᵀ.
func (s *Sparse) Transpose() *Sparse {
	t := &Sparse{
		rows:   s.cols,
		cols:   s.rows,
		rowPtr: make([]int, s.cols+1),
		colIdx: make([]int, len(s.colIdx)),
		val:    make([]float64, len(s.val)),
	}
	for _, c := range s.colIdx {
		t.rowPtr[c+1]++
	}
	for i := 0; i < s.cols; i++ {
		t.rowPtr[i+1] += t.rowPtr[i]
	}

	next := make([]int, s.cols)
	copy(next, t.rowPtr[:s.cols])
	for i := 0; i < s.rows; i++ {
		for k := s.rowPtr[i]; k < s.rowPtr[i+1]; k++ {
			c := s.colIdx[k]
			t.colIdx[next[c]] = i
			t.val[next[c]] = s.val[k]
			next[c]++
		}
	}
	return t
}

// SparseBuilder assembles a Sparse row by row and keeps its buffers between
// rebuilds. The structure is rebuilt from scratch every time; only the
// storage is reused.
type SparseBuilder struct {
	m       Sparse
	lastNNZ int
}

// growth applied to the previous nonzero count when reserving.
const sparseSlack = 1.5

// Reset starts a new rows x cols matrix. nnzHint is the expected number of
// nonzeros; storage grows to the larger of the hint and the previous count
// with slack. An empty matrix allocates nothing.
func (b *SparseBuilder) Reset(rows, cols, nnzHint int) {
	b.m.rows = 0
	b.m.cols = cols

	if rows == 0 && nnzHint == 0 {
		b.m.rowPtr = b.m.rowPtr[:0]
		b.m.colIdx = b.m.colIdx[:0]
		b.m.val = b.m.val[:0]
		return
	}

	if cap(b.m.rowPtr) < rows+1 {
		b.m.rowPtr = make([]int, 0, rows+1)
	}
	b.m.rowPtr = append(b.m.rowPtr[:0], 0)

	want := max(nnzHint, int(float64(b.lastNNZ)*sparseSlack))
	if cap(b.m.val) < nnzHint {
		b.m.colIdx = make([]int, 0, want)
		b.m.val = make([]float64, 0, want)
	}
	b.m.colIdx = b.m.colIdx[:0]
	b.m.val = b.m.val[:0]
}

// Append adds entry (current row, col). Zeros are skipped.
func (b *SparseBuilder) Append(col int, v float64) {
	if v == 0 {
		return
	}
	b.m.colIdx = append(b.m.colIdx, col)
	b.m.val = append(b.m.val, v)
}

// AppendBlock adds the entries of a dense row segment starting at col.
func (b *SparseBuilder) AppendBlock(col int, vals []float64) {
	for i, v := range vals {
		b.Append(col+i, v)
	}
}

// EndRow closes the current row.
func (b *SparseBuilder) EndRow() {
	if len(b.m.rowPtr) == 0 {
		b.m.rowPtr = append(b.m.rowPtr, 0)
	}
	b.m.rowPtr = append(b.m.rowPtr, len(b.m.val))
	b.m.rows++
}

// Build returns the assembled matrix. It shares storage with the builder
// and stays valid until the next Reset.
func (b *SparseBuilder) Build() *Sparse {
	if len(b.m.rowPtr) == 0 {
		b.m.rowPtr = append(b.m.rowPtr, 0)
	}
	b.lastNNZ = len(b.m.val)
	return &b.m
}
