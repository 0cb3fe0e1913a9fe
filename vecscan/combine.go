package vecscan

// combineAnd, combineOr, combineXor compose two already-compiled child
// batchFns into one for an interior AND/OR/XOR node. Each child runs in
// full over the batch (there's no per-element short-circuiting, since
// that would mean branching on the tree shape inside the element loop);
// the combinator then folds the two boolean arrays together in one pass.
func combineAnd(left, right batchFn) batchFn {
	return func(cur, prev []byte, align, n int, out []bool) {
		left(cur, prev, align, n, out)
		rbuf := make([]bool, n)
		right(cur, prev, align, n, rbuf)
		for i := 0; i < n; i++ {
			out[i] = out[i] && rbuf[i]
		}
	}
}

func combineOr(left, right batchFn) batchFn {
	return func(cur, prev []byte, align, n int, out []bool) {
		left(cur, prev, align, n, out)
		rbuf := make([]bool, n)
		right(cur, prev, align, n, rbuf)
		for i := 0; i < n; i++ {
			out[i] = out[i] || rbuf[i]
		}
	}
}

func combineXor(left, right batchFn) batchFn {
	return func(cur, prev []byte, align, n int, out []bool) {
		left(cur, prev, align, n, out)
		rbuf := make([]bool, n)
		right(cur, prev, align, n, rbuf)
		for i := 0; i < n; i++ {
			out[i] = out[i] != rbuf[i]
		}
	}
}
