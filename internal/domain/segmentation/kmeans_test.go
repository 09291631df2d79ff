package segmentation

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"gonum.org/v1/gonum/mat"
)

func TestKMeans(t *testing.T) {
	Convey("Given two well separated blobs", t, func() {
		x := mat.NewDense(6, 2, []float64{
			0, 0,
			0.1, 0.2,
			0.2, 0.1,
			10, 10,
			10.1, 9.9,
			9.8, 10.2,
		})

		Convey("When clustering with k=2", func() {
			res := kmeans{k: 2, maxIter: 50, nInit: 3, seed: 42}.fit(x)

			Convey("Then each blob gets one label", func() {
				So(res.labels[0], ShouldEqual, res.labels[1])
				So(res.labels[1], ShouldEqual, res.labels[2])
				So(res.labels[3], ShouldEqual, res.labels[4])
				So(res.labels[4], ShouldEqual, res.labels[5])
				So(res.labels[0], ShouldNotEqual, res.labels[3])
				So(res.iterations, ShouldBeGreaterThanOrEqualTo, 1)
				So(res.inertia, ShouldBeLessThan, 1)
			})

			Convey("Then centroids sit at the blob means", func() {
				c := res.centroids[res.labels[0]]
				So(c[0], ShouldAlmostEqual, 0.1, 1e-9)
				So(c[1], ShouldAlmostEqual, 0.1, 1e-9)
			})
		})

		Convey("When the seed is fixed", func() {
			a := kmeans{k: 3, maxIter: 50, nInit: 5, seed: 9}.fit(x)
			b := kmeans{k: 3, maxIter: 50, nInit: 5, seed: 9}.fit(x)
			So(a.centroids, ShouldResemble, b.centroids)
			So(a.labels, ShouldResemble, b.labels)
		})

		Convey("When max iterations is one", func() {
			res := kmeans{k: 2, maxIter: 1, nInit: 1, seed: 42}.fit(x)

			Convey("Then labels still match the returned centroids", func() {
				for i := 0; i < 6; i++ {
					c, _ := nearest(x.RawRowView(i), res.centroids)
					So(res.labels[i], ShouldEqual, c)
				}
			})
		})
	})

	Convey("Given equidistant centroids", t, func() {
		c, d := nearest([]float64{0, 0}, [][]float64{{1, 0}, {0, 1}, {-1, 0}})
		So(c, ShouldEqual, 0)
		So(d, ShouldEqual, 1.0)
	})
}

func TestScaler(t *testing.T) {
	Convey("Given a matrix with a constant column", t, func() {
		x := mat.NewDense(4, 2, []float64{
			1, 5,
			2, 5,
			3, 5,
			4, 5,
		})
		s := fitScaler(x)

		Convey("Then means and population deviations are stored", func() {
			So(s.mean[0], ShouldEqual, 2.5)
			So(s.scale[0], ShouldAlmostEqual, 1.118033988749895, 1e-12)
			So(s.mean[1], ShouldEqual, 5.0)
			So(s.scale[1], ShouldEqual, 1.0)
		})

		Convey("Then transformed columns are centred", func() {
			z := s.transform(x)
			So(z.At(0, 1), ShouldEqual, 0.0)
			So(z.At(0, 0)+z.At(3, 0), ShouldAlmostEqual, 0.0, 1e-12)
		})
	})
}
