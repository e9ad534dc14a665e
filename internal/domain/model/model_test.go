package model_test

import (
	"testing"
	"time"

	"github.com/okian/cfcache/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestContestPhase(t *testing.T) {
	Convey("Given a two-hour contest", t, func() {
		start := time.Date(2024, 6, 1, 17, 35, 0, 0, time.UTC)
		c := model.Contest{
			ID:        1700,
			Name:      "Codeforces Round 900",
			Type:      "CF",
			StartTime: start,
			Duration:  2 * time.Hour,
			Rated:     true,
		}

		Convey("When asked before the start time", func() {
			So(c.Phase(start.Add(-time.Minute)), ShouldEqual, model.PhaseBefore)
		})

		Convey("When asked during the contest", func() {
			So(c.Phase(start), ShouldEqual, model.PhaseCoding)
			So(c.Phase(start.Add(time.Hour)), ShouldEqual, model.PhaseCoding)
		})

		Convey("When asked at or after the end time", func() {
			So(c.Phase(c.EndTime()), ShouldEqual, model.PhaseFinished)
			So(c.Phase(start.Add(48*time.Hour)), ShouldEqual, model.PhaseFinished)
		})

		Convey("When the contest has no scheduled start", func() {
			c.StartTime = time.Time{}
			So(c.Phase(time.Now()), ShouldEqual, model.PhaseBefore)
		})
	})
}

func TestParsePhase(t *testing.T) {
	Convey("Given phase strings", t, func() {
		Convey("Then known phases should parse case-insensitively", func() {
			p, err := model.ParsePhase("coding")
			So(err, ShouldBeNil)
			So(p, ShouldEqual, model.PhaseCoding)

			p, err = model.ParsePhase(" FINISHED ")
			So(err, ShouldBeNil)
			So(p, ShouldEqual, model.PhaseFinished)
		})

		Convey("Then unknown phases should fail", func() {
			_, err := model.ParsePhase("RUNNING")
			So(err, ShouldNotBeNil)
		})
	})
}

func TestValidation(t *testing.T) {
	Convey("Given boundary validation", t, func() {
		Convey("Then a well-formed contest should pass", func() {
			c := model.Contest{ID: 1, Name: "x", Duration: time.Hour}
			So(c.Validate(), ShouldBeNil)
		})

		Convey("Then malformed rows should be rejected", func() {
			So(model.Contest{Name: "x"}.Validate(), ShouldNotBeNil)
			So(model.Problem{ContestID: 1, Index: "A"}.Validate(), ShouldNotBeNil)
			So(model.RatingChange{ContestID: 1, Handle: "tourist"}.Validate(), ShouldNotBeNil)
		})
	})
}

func TestKeysAndDeltas(t *testing.T) {
	Convey("Given domain records", t, func() {
		Convey("Then problem keys combine contest and index", func() {
			p := model.Problem{ContestID: 1700, Index: "C1", Name: "Palindrome"}
			So(p.Key(), ShouldEqual, "1700/C1")
		})

		Convey("Then rating change keys are case-insensitive on handle", func() {
			a := model.RatingChange{ContestID: 5, Handle: "Tourist", Rank: 1}
			b := model.RatingChange{ContestID: 5, Handle: "tourist", Rank: 1}
			So(a.Key(), ShouldEqual, b.Key())
		})

		Convey("Then delta is new minus old", func() {
			rc := model.RatingChange{OldRating: 1500, NewRating: 1642}
			So(rc.Delta(), ShouldEqual, 142)
		})

		Convey("Then party membership is case-insensitive", func() {
			row := model.StandingRow{Rank: 1, Members: []string{"Abc", "def"}}
			So(row.HasMember("ABC"), ShouldBeTrue)
			So(row.HasMember("ghi"), ShouldBeFalse)
		})
	})
}
