package segmentation

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/okian/custseg/internal/domain/customer"
	"github.com/okian/custseg/internal/synthetic"
	. "github.com/smartystreets/goconvey/convey"
)

var fixedClock = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

func fitRows(rows []customer.Row, opts ...Option) (*FittedPipeline, error) {
	base := []Option{WithClusters(4), WithRandomSeed(42), WithClock(fixedClock)}
	return Fit(context.Background(), rows, append(base, opts...)...)
}

// tenRows is a small fixed dataset: three marital statuses, three education
// labels and one extreme income.
func tenRows() []customer.Row {
	mk := func(edu, marital, income, yb, kid, teen, dt, wine, meat string) customer.Row {
		return customer.Row{
			"Education": edu, "Marital_Status": marital, "Income": income, "Year_Birth": yb,
			"Kidhome": kid, "Teenhome": teen, "Dt_Customer": dt, "Recency": "30",
			"MntWines": wine, "MntFruits": "10", "MntMeatProducts": meat, "MntFishProducts": "12",
			"MntSweetProducts": "5", "MntGoldProds": "20",
			"NumDealsPurchases": "2", "NumWebPurchases": "4", "NumCatalogPurchases": "1",
			"NumStorePurchases": "5", "NumWebVisitsMonth": "6",
		}
	}
	return []customer.Row{
		mk("Graduation", "Married", "58138", "1957", "0", "0", "2012-09-04", "635", "546"),
		mk("Graduation", "Single", "46344", "1954", "1", "1", "2014-03-08", "11", "6"),
		mk("PhD", "Together", "71613", "1965", "0", "0", "2013-08-21", "426", "127"),
		mk("Basic", "Together", "26646", "1984", "1", "0", "2014-02-10", "11", "20"),
		mk("PhD", "Married", "58293", "1981", "1", "0", "2014-01-19", "173", "118"),
		mk("Graduation", "Single", "62513", "1967", "0", "1", "2013-09-09", "520", "98"),
		mk("Basic", "Married", "55635", "1971", "0", "1", "2012-11-13", "235", "164"),
		mk("PhD", "Single", "33454", "1985", "1", "0", "2013-05-08", "76", "56"),
		mk("Graduation", "Together", "30351", "1974", "1", "0", "2013-06-06", "14", "24"),
		mk("PhD", "Married", "666666", "1977", "1", "0", "2013-06-02", "9", "18"),
	}
}

func labelsOf(as []Assignment) []int {
	out := make([]int, len(as))
	for i, a := range as {
		So(a.Err, ShouldBeNil)
		out[i] = a.Label
	}
	return out
}

func TestFit_Determinism(t *testing.T) {
	Convey("Given a synthetic training set", t, func() {
		rows := synthetic.NewGenerator(synthetic.WithSeed(7), synthetic.WithOutlierEvery(25)).Rows(200)

		Convey("When fitting twice with the same seed", func() {
			a, errA := fitRows(rows)
			b, errB := fitRows(rows)

			Convey("Then centroids and labels are identical", func() {
				So(errA, ShouldBeNil)
				So(errB, ShouldBeNil)
				So(a.Centroids(), ShouldResemble, b.Centroids())
				So(a.TrainingLabels(), ShouldResemble, b.TrainingLabels())
				So(a.Metadata().Inertia, ShouldEqual, b.Metadata().Inertia)
				So(a.Metadata().RunID, ShouldNotEqual, b.Metadata().RunID)
			})

			Convey("Then every label is within [0, k)", func() {
				for _, l := range a.TrainingLabels() {
					So(l, ShouldBeBetweenOrEqual, 0, 3)
				}
				So(a.K(), ShouldEqual, 4)
				So(a.Centroids(), ShouldHaveLength, 4)
			})

			Convey("Then outliers are excluded from training", func() {
				meta := a.Metadata()
				So(meta.RowsSeen, ShouldEqual, 200)
				So(meta.Dropped.IncomeOutlier+meta.Dropped.AgeOutlier, ShouldEqual, 8)
				So(meta.RowsKept, ShouldEqual, 192)
				So(a.TrainingLabels(), ShouldHaveLength, 192)
			})
		})

		Convey("When fitting with a different seed", func() {
			a, _ := fitRows(rows)
			b, err := fitRows(rows, WithRandomSeed(1234), WithNInit(1))

			So(err, ShouldBeNil)
			So(b.K(), ShouldEqual, a.K())
			So(b.Metadata().Seed, ShouldEqual, int64(1234))
		})
	})
}

func TestFit_AssignParity(t *testing.T) {
	Convey("Given a fitted pipeline", t, func() {
		gen := synthetic.NewGenerator(synthetic.WithSeed(11), synthetic.WithOutlierEvery(20), synthetic.WithMissingEvery(33))
		rows := gen.Rows(150)
		p, err := fitRows(rows)
		So(err, ShouldBeNil)

		Convey("When assigning the rows that were kept for training", func() {
			set := customer.NewBuilder(customer.WithAsOfYear(2024)).BuildTraining(rows)
			kept := make([]customer.Row, len(set.Source))
			for i, src := range set.Source {
				kept[i] = rows[src]
			}
			got := labelsOf(p.Assign(kept))

			Convey("Then labels equal the training byproduct", func() {
				So(got, ShouldResemble, p.TrainingLabels())
				a := append([]int(nil), got...)
				b := p.TrainingLabels()
				sort.Ints(a)
				sort.Ints(b)
				So(a, ShouldResemble, b)
			})
		})

		Convey("When assigning every row including outliers and blanks", func() {
			out := p.Assign(rows)

			Convey("Then outliers get labels and blank rows fail explicitly", func() {
				So(out, ShouldHaveLength, len(rows))
				// Row 19 is an income outlier, row 39 an age outlier.
				So(out[19].Err, ShouldBeNil)
				So(out[19].Label, ShouldBeBetweenOrEqual, 0, 3)
				So(out[39].Err, ShouldBeNil)
				// Row 32 has no income.
				So(errors.Is(out[32].Err, customer.ErrMissingField), ShouldBeTrue)
				So(out[32].Label, ShouldEqual, -1)
			})
		})
	})
}

func TestFit_TenRowScenario(t *testing.T) {
	Convey("Given the fixed ten-row dataset", t, func() {
		rows := tenRows()

		Convey("When fitting with k=4 and seed 42", func() {
			p, err := fitRows(rows)
			So(err, ShouldBeNil)

			Convey("Then the income outlier is dropped from training", func() {
				So(p.Metadata().RowsKept, ShouldEqual, 9)
				So(p.Metadata().Dropped.IncomeOutlier, ShouldEqual, 1)
			})

			Convey("Then the recorded label sequence and inertia are reproduced", func() {
				So(labelsOf(p.Assign(rows)), ShouldResemble, []int{1, 3, 1, 0, 0, 2, 2, 0, 0, 1})
				So(p.TrainingLabels(), ShouldResemble, []int{1, 3, 1, 0, 0, 2, 2, 0, 0})
				So(p.Metadata().Inertia, ShouldAlmostEqual, 34.9108025, 1e-6)
				So(p.Metadata().Iterations, ShouldEqual, 2)
			})

			Convey("Then the label sequence repeats across runs", func() {
				first := labelsOf(p.Assign(rows))
				So(first, ShouldHaveLength, 10)
				So(first[:9], ShouldResemble, p.TrainingLabels())
				for run := 0; run < 3; run++ {
					again, err := fitRows(rows)
					So(err, ShouldBeNil)
					So(labelsOf(again.Assign(rows)), ShouldResemble, first)
				}
			})

			Convey("Then the categorical encoder saw three education tiers", func() {
				So(p.Categories(customer.ColEducationTier), ShouldResemble,
					[]string{customer.Graduate, customer.Postgraduate, customer.Undergraduate})
				So(p.Categories(customer.ColLivingSituation), ShouldResemble,
					[]string{customer.Alone, customer.Partner})
			})
		})

		Convey("When k exceeds the usable rows", func() {
			_, err := fitRows(rows, WithClusters(10))
			So(errors.Is(err, ErrClustering), ShouldBeTrue)
		})

		Convey("When every row is dropped", func() {
			_, err := fitRows(rows, WithIncomeCap(1))
			So(errors.Is(err, ErrNoData), ShouldBeTrue)
		})
	})
}

func TestFit_DistinctVectors(t *testing.T) {
	Convey("Given rows that collapse to two distinct feature vectors", t, func() {
		src := tenRows()
		rows := []customer.Row{src[0], src[0], src[0], src[1], src[1], src[1]}

		_, err := fitRows(rows)
		So(errors.Is(err, ErrClustering), ShouldBeTrue)

		p, err := fitRows(rows, WithClusters(2))
		So(err, ShouldBeNil)
		labels := p.TrainingLabels()
		So(labels[0], ShouldEqual, labels[1])
		So(labels[0], ShouldNotEqual, labels[3])
	})
}

func TestAssign_UnknownCategories(t *testing.T) {
	Convey("Given a pipeline fitted without Undergraduate rows", t, func() {
		rows := synthetic.NewGenerator(synthetic.WithSeed(3)).Rows(120)
		var trainRows []customer.Row
		for _, r := range rows {
			if r["Education"] != "Basic" && r["Education"] != "2n Cycle" {
				trainRows = append(trainRows, r)
			}
		}
		p, err := fitRows(trainRows)
		So(err, ShouldBeNil)

		Convey("When assigning rows with unseen categories", func() {
			odd := []customer.Row{
				withField(rows[0], "Education", "Basic"),
				withField(rows[1], "Education", "Bootcamp"),
				withField(rows[2], "Marital_Status", "YOLO"),
				withField(rows[3], "Marital_Status", "Complicated"),
			}
			out := p.Assign(odd)

			Convey("Then each still receives a label", func() {
				for _, a := range out {
					So(a.Err, ShouldBeNil)
					So(a.Label, ShouldBeBetweenOrEqual, 0, p.K()-1)
				}
			})
		})

		Convey("When the unseen tier is encoded", func() {
			code, ok := p.encoder.encode(0, customer.Undergraduate)
			So(ok, ShouldBeFalse)
			So(code, ShouldEqual, float64(UnknownOrdinal))
		})
	})
}

func TestAssignFeatures(t *testing.T) {
	Convey("Given a fitted pipeline and featurized records", t, func() {
		rows := synthetic.NewGenerator(synthetic.WithSeed(5)).Rows(80)
		p, err := fitRows(rows)
		So(err, ShouldBeNil)

		builder := customer.NewBuilder(customer.WithAsOfYear(p.Reference().AsOfYear))
		var records []customer.FeatureRecord
		for _, r := range builder.BuildInference(rows[:10], p.Reference()) {
			So(r.Err, ShouldBeNil)
			records = append(records, r.Record)
		}

		Convey("When they match the schema", func() {
			labels, err := p.AssignFeatures(records)

			Convey("Then labels equal the raw path", func() {
				So(err, ShouldBeNil)
				So(labels, ShouldResemble, labelsOf(p.Assign(rows[:10])))
			})
		})

		Convey("When a record is missing a column", func() {
			broken := copyRecord(records[4])
			delete(broken, customer.ColAge)
			broken["Year_Birth"] = 1970.0
			in := append(append([]customer.FeatureRecord(nil), records[:4]...), broken)
			_, err := p.AssignFeatures(in)

			Convey("Then the whole batch fails with a dimension mismatch", func() {
				var dm *DimensionMismatchError
				So(errors.As(err, &dm), ShouldBeTrue)
				So(dm.Index, ShouldEqual, 4)
				So(dm.Missing, ShouldResemble, []string{customer.ColAge})
				So(dm.Extra, ShouldResemble, []string{"Year_Birth"})
			})
		})

		Convey("When a numeric column is not a number", func() {
			broken := copyRecord(records[0])
			broken[customer.ColAge] = "old"
			_, err := p.AssignFeatures([]customer.FeatureRecord{broken})

			So(errors.Is(err, customer.ErrMalformedInput), ShouldBeTrue)
		})

		Convey("When a later record has an unreadable value", func() {
			broken := copyRecord(records[3])
			broken[customer.FieldIncome] = "lots"
			in := append(append([]customer.FeatureRecord(nil), records[:3]...), broken)
			_, err := p.AssignFeatures(in)

			Convey("Then the error names that record", func() {
				var re *RecordError
				So(errors.As(err, &re), ShouldBeTrue)
				So(re.Index, ShouldEqual, 3)
				So(errors.Is(err, customer.ErrMalformedInput), ShouldBeTrue)
				So(err.Error(), ShouldStartWith, "record 3: ")
			})
		})
	})
}

func withField(r customer.Row, k string, v any) customer.Row {
	out := make(customer.Row, len(r))
	for key, val := range r {
		out[key] = val
	}
	out[k] = v
	return out
}

func copyRecord(r customer.FeatureRecord) customer.FeatureRecord {
	out := make(customer.FeatureRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
