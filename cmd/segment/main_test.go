package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/smartystreets/goconvey/convey"

	service "github.com/okian/custseg/internal/app"
)

func TestRun(t *testing.T) {
	convey.Convey("Given a scratch workspace", t, func() {
		dir := t.TempDir()
		t.Setenv("SEGMENT_ARTIFACT_DIR", filepath.Join(dir, "models"))
		t.Setenv("SEGMENT_CLUSTERS", "3")
		t.Setenv("SEGMENT_N_INIT", "2")
		t.Setenv("SEGMENT_AS_OF_YEAR", "2024")
		t.Setenv("SEGMENT_LOG_LEVEL", "error")
		ctx := context.Background()
		data := filepath.Join(dir, "customers.tsv")

		convey.Convey("When generating, training and predicting", func() {
			var out bytes.Buffer
			convey.So(run(ctx, []string{"generate", "-n", "300", "-out", data}, &out), convey.ShouldBeNil)

			out.Reset()
			convey.So(run(ctx, []string{"train", "-data", data, "-test-size", "0.2"}, &out), convey.ShouldBeNil)
			convey.So(out.String(), convey.ShouldContainSubstring, "version=1 k=3")
			convey.So(out.String(), convey.ShouldContainSubstring, "test split: rows=60 failed=0")

			convey.Convey("Then predict labels every row of the file", func() {
				out.Reset()
				convey.So(run(ctx, []string{"predict", "-in", data}, &out), convey.ShouldBeNil)

				var doc service.Predictions
				convey.So(json.Unmarshal(out.Bytes(), &doc), convey.ShouldBeNil)
				convey.So(len(doc.Predictions), convey.ShouldEqual, 300)
				convey.So(doc.Errors, convey.ShouldBeEmpty)
				convey.So(doc.Model.Version, convey.ShouldEqual, 1)
				for _, p := range doc.Predictions {
					convey.So(p, convey.ShouldNotBeNil)
					convey.So(*p, convey.ShouldBeBetweenOrEqual, 0, 2)
				}
			})

			convey.Convey("Then JSON instances with a bad row report it by index", func() {
				in := filepath.Join(dir, "instances.json")
				convey.So(os.WriteFile(in, []byte(`{"instances":[{"Income":"oops"}]}`), 0o600), convey.ShouldBeNil)

				out.Reset()
				convey.So(run(ctx, []string{"predict", "-in", in}, &out), convey.ShouldBeNil)
				var doc service.Predictions
				convey.So(json.Unmarshal(out.Bytes(), &doc), convey.ShouldBeNil)
				convey.So(doc.Predictions[0], convey.ShouldBeNil)
				convey.So(len(doc.Errors), convey.ShouldEqual, 1)
				convey.So(doc.Errors[0].Index, convey.ShouldEqual, 0)
			})

			convey.Convey("Then retraining stores a second version", func() {
				out.Reset()
				convey.So(run(ctx, []string{"train", "-data", data, "-test-size", "0"}, &out), convey.ShouldBeNil)
				convey.So(out.String(), convey.ShouldContainSubstring, "version=2")
			})
		})

		convey.Convey("When predicting before any training", func() {
			in := filepath.Join(dir, "instances.json")
			convey.So(os.WriteFile(in, []byte(`[]`), 0o600), convey.ShouldBeNil)
			err := run(ctx, []string{"predict", "-in", in}, &bytes.Buffer{})
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(err.Error(), convey.ShouldContainSubstring, "not found")
		})

		convey.Convey("When the command is unknown", func() {
			err := run(ctx, []string{"dance"}, &bytes.Buffer{})
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(strings.Contains(err.Error(), "unknown command"), convey.ShouldBeTrue)
		})

		convey.Convey("When asking for help", func() {
			var out bytes.Buffer
			convey.So(run(ctx, []string{"help"}, &out), convey.ShouldBeNil)
			convey.So(out.String(), convey.ShouldContainSubstring, "usage: segment")
		})

		convey.Convey("When no command is given", func() {
			convey.So(run(ctx, nil, &bytes.Buffer{}), convey.ShouldEqual, errUsage)
		})
	})
}
