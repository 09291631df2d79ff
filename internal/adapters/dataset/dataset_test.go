package dataset_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/okian/custseg/internal/adapters/dataset"
	"github.com/okian/custseg/internal/domain/customer"
	"github.com/okian/custseg/internal/synthetic"
	. "github.com/smartystreets/goconvey/convey"
)

const sampleTSV = "ID\tYear_Birth\tEducation\tMarital_Status\tIncome\n" +
	"5524\t1957\tGraduation\tSingle\t58138\n" +
	"2174\t1954\tGraduation\tSingle\t\n"

func TestReadTSV(t *testing.T) {
	Convey("Given a tab separated file", t, func() {
		Convey("When it is well formed", func() {
			rows, err := dataset.ReadTSV(strings.NewReader(sampleTSV))

			Convey("Then each line becomes a string row", func() {
				So(err, ShouldBeNil)
				So(rows, ShouldHaveLength, 2)
				So(rows[0]["Education"], ShouldEqual, "Graduation")
				So(rows[0]["Year_Birth"], ShouldEqual, "1957")
				So(rows[1]["Income"], ShouldEqual, "")
				So(customer.IsMissing(rows[1]["Income"]), ShouldBeTrue)
			})
		})

		Convey("When it only has a header", func() {
			_, err := dataset.ReadTSV(strings.NewReader("ID\tIncome\n"))
			So(errors.Is(err, dataset.ErrEmpty), ShouldBeTrue)
		})

		Convey("When the header repeats a column", func() {
			_, err := dataset.ReadTSV(strings.NewReader("ID\tID\n1\t2\n"))
			So(errors.Is(err, dataset.ErrBadHeader), ShouldBeTrue)
		})

		Convey("When a row has the wrong width", func() {
			_, err := dataset.ReadTSV(strings.NewReader("ID\tIncome\n1\t2\t3\n"))
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "row 1")
		})
	})

	Convey("Given generated rows written out", t, func() {
		rows := synthetic.NewGenerator(synthetic.WithSeed(1), synthetic.WithMissingEvery(4)).Rows(12)
		var buf bytes.Buffer
		So(dataset.WriteTSV(&buf, rows), ShouldBeNil)

		Convey("Then reading them back yields the same values", func() {
			back, err := dataset.ReadTSV(&buf)
			So(err, ShouldBeNil)
			So(back, ShouldHaveLength, 12)
			for i := range rows {
				So(back[i]["ID"], ShouldEqual, rows[i]["ID"])
				So(back[i]["Dt_Customer"], ShouldEqual, rows[i]["Dt_Customer"])
				So(back[i]["Income"], ShouldEqual, rows[i]["Income"])
			}
		})
	})
}

func TestDecodeInstances(t *testing.T) {
	Convey("Given JSON prediction input", t, func() {
		Convey("When it is wrapped in instances", func() {
			out, err := dataset.DecodeInstances([]byte(`{"instances": [{"Income": 58138, "Education": "PhD"}]}`))

			Convey("Then numbers are kept exact", func() {
				So(err, ShouldBeNil)
				So(out, ShouldHaveLength, 1)
				So(out[0]["Income"], ShouldEqual, json.Number("58138"))
				v, err := customer.ParseNumber("Income", out[0]["Income"])
				So(err, ShouldBeNil)
				So(v, ShouldEqual, 58138.0)
			})
		})

		Convey("When it is a bare array", func() {
			out, err := dataset.DecodeInstances([]byte(` [{"a": 1}, {"a": 2}] `))
			So(err, ShouldBeNil)
			So(out, ShouldHaveLength, 2)
		})

		Convey("When the shape is wrong", func() {
			_, err := dataset.DecodeInstances([]byte(`{"rows": []}`))
			So(errors.Is(err, dataset.ErrUnknownShape), ShouldBeTrue)
			_, err = dataset.DecodeInstances([]byte(`42`))
			So(errors.Is(err, dataset.ErrUnknownShape), ShouldBeTrue)
			_, err = dataset.DecodeInstances([]byte(`[{"a":`))
			So(err, ShouldNotBeNil)
		})
	})
}

func TestSplit(t *testing.T) {
	Convey("Given one hundred rows", t, func() {
		rows := synthetic.NewGenerator().Rows(100)

		Convey("When split with a tenth held out", func() {
			train, test, err := dataset.Split(rows, 0.10, 42)

			Convey("Then sizes follow the fraction and no row is lost", func() {
				So(err, ShouldBeNil)
				So(test, ShouldHaveLength, 10)
				So(train, ShouldHaveLength, 90)
				ids := map[any]bool{}
				for _, r := range append(append([]customer.Row(nil), train...), test...) {
					ids[r["ID"]] = true
				}
				So(ids, ShouldHaveLength, 100)
			})

			Convey("Then the same seed gives the same split", func() {
				_, again, _ := dataset.Split(rows, 0.10, 42)
				for i := range test {
					So(again[i]["ID"], ShouldEqual, test[i]["ID"])
				}
			})
		})

		Convey("When the fraction is out of range", func() {
			_, _, err := dataset.Split(rows, 1, 42)
			So(errors.Is(err, dataset.ErrBadTestSize), ShouldBeTrue)
		})

		Convey("When nothing is held out", func() {
			train, test, err := dataset.Split(rows, 0, 42)
			So(err, ShouldBeNil)
			So(test, ShouldBeEmpty)
			So(train, ShouldHaveLength, 100)
		})
	})
}
