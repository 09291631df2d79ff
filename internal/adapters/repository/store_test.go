package repository_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/custseg/internal/adapters/repository"
	. "github.com/smartystreets/goconvey/convey"
)

var fixedNow = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }

type backend struct {
	name string
	open func(t *testing.T, opts ...repository.Option) repository.Store
}

func backends() []backend {
	return []backend{
		{name: "file", open: func(t *testing.T, opts ...repository.Option) repository.Store {
			s, err := repository.NewFileStore(t.TempDir(), opts...)
			if err != nil {
				t.Fatalf("open file store: %v", err)
			}
			return s
		}},
		{name: "badger", open: func(t *testing.T, opts ...repository.Option) repository.Store {
			s, err := repository.NewBadgerStore("", append(opts, repository.WithInMemory())...)
			if err != nil {
				t.Fatalf("open badger store: %v", err)
			}
			return s
		}},
	}
}

func TestStoreContract(t *testing.T) {
	for _, b := range backends() {
		Convey("Given an empty "+b.name+" store", t, func() {
			ctx := context.Background()
			store := b.open(t, repository.WithClock(fixedNow))
			defer store.Close()

			Convey("When loading before any save", func() {
				_, _, err := store.Load(ctx, "custseg", 0)
				So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			})

			Convey("When saving three versions", func() {
				for i := 1; i <= 3; i++ {
					meta, err := store.Save(ctx, repository.Metadata{Name: "custseg", RunID: "run", K: 4}, []byte{byte(i), 1, 2, 3})
					So(err, ShouldBeNil)
					So(meta.Version, ShouldEqual, i)
					So(meta.SizeBytes, ShouldEqual, int64(4))
					So(meta.SavedAt, ShouldEqual, fixedNow())
					So(meta.Checksum, ShouldNotBeBlank)
				}

				Convey("Then version 0 loads the latest", func() {
					data, meta, err := store.Load(ctx, "custseg", 0)
					So(err, ShouldBeNil)
					So(meta.Version, ShouldEqual, 3)
					So(meta.K, ShouldEqual, 4)
					So(data, ShouldResemble, []byte{3, 1, 2, 3})
				})

				Convey("Then older versions stay addressable", func() {
					data, _, err := store.Load(ctx, "custseg", 1)
					So(err, ShouldBeNil)
					So(data[0], ShouldEqual, byte(1))
					_, _, err = store.Load(ctx, "custseg", 9)
					So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
				})

				Convey("Then List returns them oldest first", func() {
					list, err := store.List(ctx, "custseg")
					So(err, ShouldBeNil)
					So(list, ShouldHaveLength, 3)
					So(list[0].Version, ShouldEqual, 1)
					So(list[2].Version, ShouldEqual, 3)
				})

				Convey("Then names do not bleed into each other", func() {
					list, err := store.List(ctx, "custseg2")
					So(err, ShouldBeNil)
					So(list, ShouldBeEmpty)
				})

				Convey("Then pruning keeps the newest", func() {
					removed, err := store.Prune(ctx, "custseg", 1)
					So(err, ShouldBeNil)
					So(removed, ShouldEqual, 2)
					list, _ := store.List(ctx, "custseg")
					So(list, ShouldHaveLength, 1)
					So(list[0].Version, ShouldEqual, 3)

					meta, err := store.Save(ctx, repository.Metadata{Name: "custseg"}, []byte("next"))
					So(err, ShouldBeNil)
					So(meta.Version, ShouldEqual, 4)
				})
			})

			Convey("When the name is not usable", func() {
				for _, name := range []string{"", "a/b", "seg_v2", "a:b"} {
					_, err := store.Save(ctx, repository.Metadata{Name: name}, []byte("x"))
					So(errors.Is(err, repository.ErrInvalidName), ShouldBeTrue)
				}
			})
		})

		Convey("Given a "+b.name+" store that keeps two versions", t, func() {
			ctx := context.Background()
			store := b.open(t, repository.WithKeepVersions(2))
			defer store.Close()

			for i := 0; i < 5; i++ {
				_, err := store.Save(ctx, repository.Metadata{Name: "custseg"}, []byte{byte(i)})
				So(err, ShouldBeNil)
			}

			list, err := store.List(ctx, "custseg")
			So(err, ShouldBeNil)
			So(list, ShouldHaveLength, 2)
			So(list[0].Version, ShouldEqual, 4)
			So(list[1].Version, ShouldEqual, 5)
		})
	}
}

func TestFileStore(t *testing.T) {
	Convey("Given a file store with saved artifacts", t, func() {
		ctx := context.Background()
		dir := t.TempDir()
		store, err := repository.NewFileStore(dir)
		So(err, ShouldBeNil)
		_, err = store.Save(ctx, repository.Metadata{Name: "custseg"}, []byte("one"))
		So(err, ShouldBeNil)
		_, err = store.Save(ctx, repository.Metadata{Name: "custseg"}, []byte("two"))
		So(err, ShouldBeNil)

		Convey("When the directory is reopened", func() {
			So(os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600), ShouldBeNil)
			reopened, err := repository.NewFileStore(dir)
			So(err, ShouldBeNil)

			Convey("Then existing versions are found", func() {
				data, meta, err := reopened.Load(ctx, "custseg", 0)
				So(err, ShouldBeNil)
				So(meta.Version, ShouldEqual, 2)
				So(string(data), ShouldEqual, "two")
			})
		})

		Convey("When a version file is damaged", func() {
			So(os.WriteFile(filepath.Join(dir, "custseg_v2.cseg"), []byte("garbage"), 0o600), ShouldBeNil)

			Convey("Then loading it fails", func() {
				_, _, err := store.Load(ctx, "custseg", 2)
				So(errors.Is(err, repository.ErrChecksum), ShouldBeTrue)
			})

			Convey("Then listing still reports it from the metadata sidecar", func() {
				list, err := store.List(ctx, "custseg")
				So(err, ShouldBeNil)
				So(list, ShouldHaveLength, 2)
			})

			Convey("Then without the sidecar listing skips it", func() {
				So(os.Remove(filepath.Join(dir, "custseg_v2.json")), ShouldBeNil)
				list, err := store.List(ctx, "custseg")
				So(err, ShouldBeNil)
				So(list, ShouldHaveLength, 1)
				So(list[0].Version, ShouldEqual, 1)
			})
		})

		Convey("When pruning to one version", func() {
			removed, err := store.Prune(ctx, "custseg", 1)
			So(err, ShouldBeNil)
			So(removed, ShouldEqual, 1)

			Convey("Then the old artifact and its sidecar are gone", func() {
				_, err := os.Stat(filepath.Join(dir, "custseg_v1.cseg"))
				So(errors.Is(err, os.ErrNotExist), ShouldBeTrue)
				_, err = os.Stat(filepath.Join(dir, "custseg_v1.json"))
				So(errors.Is(err, os.ErrNotExist), ShouldBeTrue)
				_, err = os.Stat(filepath.Join(dir, "custseg_v2.json"))
				So(err, ShouldBeNil)
			})
		})
	})
}

func TestOpen(t *testing.T) {
	Convey("Given backend names", t, func() {
		s, err := repository.Open(repository.BackendFile, t.TempDir())
		So(err, ShouldBeNil)
		So(s.Close(), ShouldBeNil)

		s, err = repository.Open(repository.BackendBadger, "", repository.WithInMemory())
		So(err, ShouldBeNil)
		So(s.Close(), ShouldBeNil)
		_, err = s.List(context.Background(), "custseg")
		So(errors.Is(err, repository.ErrClosed), ShouldBeTrue)

		_, err = repository.Open("s3", t.TempDir())
		So(errors.Is(err, repository.ErrUnknownBackend), ShouldBeTrue)
	})
}
