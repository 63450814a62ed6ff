package nn

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// gemm 计算 c = alpha*op(a)*op(b) + beta*c，op(a) 为 m×k，op(b) 为 k×n，全部行主序
func gemm(transA, transB bool, m, n, k int, alpha float32, a, b []float32, beta float32, c []float32) {
	ga := blas32.General{Rows: m, Cols: k, Stride: k, Data: a}
	ta := blas.NoTrans
	if transA {
		ga = blas32.General{Rows: k, Cols: m, Stride: m, Data: a}
		ta = blas.Trans
	}
	gb := blas32.General{Rows: k, Cols: n, Stride: n, Data: b}
	tb := blas.NoTrans
	if transB {
		gb = blas32.General{Rows: n, Cols: k, Stride: k, Data: b}
		tb = blas.Trans
	}
	gc := blas32.General{Rows: m, Cols: n, Stride: n, Data: c}
	blas32.Gemm(ta, tb, alpha, ga, gb, beta, gc)
}
