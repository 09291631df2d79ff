package segmentation

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// standardScaler centres each column on its training mean and divides by the
// population standard deviation. Constant columns keep a scale of 1.
type standardScaler struct {
	mean  []float64
	scale []float64
}

func fitScaler(x *mat.Dense) standardScaler {
	_, cols := x.Dims()
	s := standardScaler{
		mean:  make([]float64, cols),
		scale: make([]float64, cols),
	}
	for j := 0; j < cols; j++ {
		col := mat.Col(nil, j, x)
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 {
			std = 1
		}
		s.mean[j] = mean
		s.scale[j] = std
	}
	return s
}

// transform returns a scaled copy of x.
func (s standardScaler) transform(x *mat.Dense) *mat.Dense {
	rows, cols := x.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		out.SetRow(i, s.transformRow(x.RawRowView(i)))
	}
	return out
}

func (s standardScaler) transformRow(v []float64) []float64 {
	out := make([]float64, len(v))
	for j, x := range v {
		out[j] = (x - s.mean[j]) / s.scale[j]
	}
	return out
}
