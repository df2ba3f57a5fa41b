package matcher_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/okian/standings/internal/domain/matcher"
	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func rec(id string) model.ScoreRecord {
	return model.ScoreRecord{EntityID: id, Region: "R1"}
}

func ent(id string, active bool) model.Entity {
	return model.Entity{ID: id, Region: "R1", Active: active}
}

func TestClassify(t *testing.T) {
	Convey("Given persisted A, B, D and a fetch of A, C, E(inactive), B(inactive)", t, func() {
		persisted := []model.ScoreRecord{rec("A"), rec("B"), rec("D")}
		fetched := []model.Entity{ent("A", true), ent("C", true), ent("E", false), ent("B", false)}

		c := matcher.Classify(persisted, fetched)

		Convey("Then each identifier lands in exactly one bucket", func() {
			So(c.UnchangedActive, ShouldResemble, []string{"A"})
			So(c.NewlyActive, ShouldResemble, []string{"C"})
			So(c.BecameInactive, ShouldResemble, []string{"B", "D"})
			So(c.StillInactive, ShouldResemble, []string{"E"})
			So(c.Len(), ShouldEqual, 5)
		})

		Convey("Then Of reports the class", func() {
			cl, ok := c.Of("D")
			So(ok, ShouldBeTrue)
			So(cl, ShouldEqual, matcher.BecameInactive)
			So(cl.String(), ShouldEqual, "became-inactive")

			_, ok = c.Of("Z")
			So(ok, ShouldBeFalse)
		})
	})

	Convey("Given random inputs", t, func() {
		rng := rand.New(rand.NewSource(7)) //nolint:gosec // deterministic seed for reproducible testing
		for round := 0; round < 50; round++ {
			var persisted []model.ScoreRecord
			var fetched []model.Entity
			all := map[string]struct{}{}
			for i := 0; i < 40; i++ {
				id := fmt.Sprintf("e%d", i)
				if rng.Intn(2) == 0 {
					persisted = append(persisted, rec(id))
					all[id] = struct{}{}
				}
				if rng.Intn(2) == 0 {
					fetched = append(fetched, ent(id, rng.Intn(3) > 0))
					all[id] = struct{}{}
				}
			}

			c := matcher.Classify(persisted, fetched)

			seen := map[string]int{}
			for _, set := range [][]string{c.UnchangedActive, c.NewlyActive, c.BecameInactive, c.StillInactive} {
				for _, id := range set {
					seen[id]++
				}
			}

			So(len(seen), ShouldEqual, len(all))
			for id := range all {
				So(seen[id], ShouldEqual, 1)
			}
		}
	})
}

func TestSanitize(t *testing.T) {
	ctx := context.Background()

	Convey("Given a snapshot with malformed entries", t, func() {
		entities := []model.Entity{
			{ID: "A", Region: "R1", Active: true},
			{ID: "", Region: "R1", Active: true},
			{ID: "B", Region: " ", Active: true},
			{ID: "A", Region: "R2", Active: true},
			{ID: " C ", Region: "R2", Active: true},
		}

		Convey("When the skip bound is not exceeded", func() {
			s := matcher.NewSanitizer(matcher.WithMaxSkipped(3))
			out, skips, err := s.Sanitize(ctx, entities)

			Convey("Then the bad entries are dropped in order", func() {
				So(err, ShouldBeNil)
				So(len(out), ShouldEqual, 2)
				So(out[0].ID, ShouldEqual, "A")
				So(out[0].Region, ShouldEqual, "R1")
				So(out[1].ID, ShouldEqual, "C")
				So(len(skips), ShouldEqual, 3)
				So(skips[0].Reason, ShouldEqual, "missing id")
				So(skips[1].Reason, ShouldEqual, "missing region")
				So(skips[2].Reason, ShouldEqual, "duplicate id")
			})
		})

		Convey("When the skip bound is exceeded", func() {
			s := matcher.NewSanitizer(matcher.WithMaxSkipped(2))
			out, skips, err := s.Sanitize(ctx, entities)

			Convey("Then a matching error is returned", func() {
				So(errors.Is(err, matcher.ErrTooManySkipped), ShouldBeTrue)
				So(out, ShouldBeNil)
				So(len(skips), ShouldEqual, 3)
			})
		})

		Convey("When the bound is disabled", func() {
			s := matcher.NewSanitizer(matcher.WithMaxSkipped(-1))
			_, _, err := s.Sanitize(ctx, entities)

			Convey("Then no error is returned", func() {
				So(err, ShouldBeNil)
			})
		})
	})
}

func TestHold(t *testing.T) {
	ctx := context.Background()

	Convey("Given persisted A, B and C and a snapshot where B and C are malformed", t, func() {
		persisted := []model.ScoreRecord{
			{EntityID: "A", Region: "R1"},
			{EntityID: "B", Region: "R1"},
			{EntityID: "C", Region: "R2"},
		}
		entities := []model.Entity{
			{ID: "A", Region: "R1", Active: true},
			{ID: "B", Region: "", Active: true},
			{ID: "C", Region: "R2", Active: true},
			{ID: "C", Region: "R3", Active: true},
		}
		kept, skips, err := matcher.NewSanitizer().Sanitize(ctx, entities)
		So(err, ShouldBeNil)

		rest, held := matcher.Hold(persisted, kept, skips)

		Convey("Then only the entity without any usable entry is held", func() {
			So(held, ShouldResemble, []string{"B"})
			So(len(rest), ShouldEqual, 2)
			So(rest[0].EntityID, ShouldEqual, "A")
			So(rest[1].EntityID, ShouldEqual, "C")
		})

		Convey("Then the held entity is not classified as became-inactive", func() {
			cls := matcher.Classify(rest, kept)
			So(len(cls.BecameInactive), ShouldEqual, 0)
			_, known := cls.Of("B")
			So(known, ShouldBeFalse)
		})
	})

	Convey("Given no skipped entries", t, func() {
		persisted := []model.ScoreRecord{{EntityID: "A", Region: "R1"}}
		rest, held := matcher.Hold(persisted, nil, nil)
		So(held, ShouldBeNil)
		So(len(rest), ShouldEqual, 1)
	})
}
