package embedding

// meanPool averages the token vectors of hidden ([tokens][dims], row-major) over
// positions where mask is set.
func meanPool(hidden []float32, mask []int64, dims int) []float32 {
	out := make([]float32, dims)
	var count float32
	for t, m := range mask {
		if m == 0 {
			continue
		}
		row := hidden[t*dims : (t+1)*dims]
		for i, v := range row {
			out[i] += v
		}
		count++
	}
	if count > 0 {
		for i := range out {
			out[i] /= count
		}
	}
	return out
}
