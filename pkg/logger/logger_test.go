package logger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	Convey("Given the global logger", t, func() {
		Convey("When initialized with defaults", func() {
			err := Init()

			Convey("Then Get returns a usable logger", func() {
				So(err, ShouldBeNil)
				So(Get(), ShouldNotBeNil)
				So(Sync(), ShouldBeNil)
			})
		})

		Convey("When initialized with an unknown format", func() {
			err := Init(WithFormat("xml"))

			Convey("Then it should fail", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "unknown log format")
			})
		})
	})
}

func TestLoggerOutput(t *testing.T) {
	Convey("Given a logger writing JSON to a buffer", t, func() {
		var buf bytes.Buffer
		So(Init(WithWriter(&buf), WithFormat("json")), ShouldBeNil)
		ctx := context.Background()

		Convey("When logging with structured fields", func() {
			Named("pipeline").Info(ctx, "fit done",
				String("run_id", "r-1"),
				Int("k", 4),
				Bool("converged", true),
				Duration("took", 2*time.Millisecond),
				Error(errors.New("boom")),
			)
			out := buf.String()

			Convey("Then the fields and component are present", func() {
				So(out, ShouldContainSubstring, `"msg":"fit done"`)
				So(out, ShouldContainSubstring, `"component":"pipeline"`)
				So(out, ShouldContainSubstring, `"run_id":"r-1"`)
				So(out, ShouldContainSubstring, `"k":4`)
				So(out, ShouldContainSubstring, `"converged":true`)
				So(out, ShouldContainSubstring, `"source"`)
			})
		})

		Convey("When the level is raised to warn", func() {
			So(SetLevelString("warn"), ShouldBeNil)
			Get().Info(ctx, "hidden")
			Get().Warn(ctx, "shown")
			out := buf.String()

			Convey("Then info lines are filtered", func() {
				So(strings.Contains(out, "hidden"), ShouldBeFalse)
				So(out, ShouldContainSubstring, "shown")
			})
		})
	})
}

func TestSetLevelString(t *testing.T) {
	Convey("Given level strings", t, func() {
		So(Init(), ShouldBeNil)
		for _, lvl := range []string{"debug", "INFO", "", "warning", "error"} {
			So(SetLevelString(lvl), ShouldBeNil)
		}
		So(SetLevelString("verbose"), ShouldNotBeNil)
	})
}
