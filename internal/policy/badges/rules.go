// Package badges holds the static badge table and the pure predicates that
// decide each award. Predicates see only the Stats snapshot so the same
// inputs always produce the same awards.
package badges

import (
	"fmt"

	"github.com/engagehub/maintenance-core/internal/domain/badge"
	"github.com/engagehub/maintenance-core/internal/domain/leaderboard"
)

// Stats is a snapshot of the counters the threshold badges read.
type Stats struct {
	CompletedTasks int
	EarnTotal      int64
	DailyStreak    int
	Referrals      int
}

type rule struct {
	def  badge.Badge
	pred func(Stats) bool
}

func taskTier(id int64, name string, n int) rule {
	return rule{
		def:  badge.Badge{ID: id, Name: name, Category: badge.CategoryTasks, PredicateID: fmt.Sprintf("tasks_%d", n)},
		pred: func(s Stats) bool { return s.CompletedTasks >= n },
	}
}

func earnTier(id int64, name string, n int64) rule {
	return rule{
		def:  badge.Badge{ID: id, Name: name, Category: badge.CategoryEarnings, PredicateID: fmt.Sprintf("earn_%d", n)},
		pred: func(s Stats) bool { return s.EarnTotal >= n },
	}
}

func streakTier(id int64, name string, n int) rule {
	return rule{
		def:  badge.Badge{ID: id, Name: name, Category: badge.CategoryStreak, PredicateID: fmt.Sprintf("streak_%d", n)},
		pred: func(s Stats) bool { return s.DailyStreak >= n },
	}
}

func referralTier(id int64, name string, n int) rule {
	return rule{
		def:  badge.Badge{ID: id, Name: name, Category: badge.CategoryReferral, PredicateID: fmt.Sprintf("referral_%d", n)},
		pred: func(s Stats) bool { return s.Referrals >= n },
	}
}

// table is the full badge catalogue. IDs are stable; never renumber.
var table = []rule{
	taskTier(1, "First Task", 1),
	taskTier(2, "Getting Started", 5),
	taskTier(3, "Regular", 25),
	taskTier(4, "Dedicated", 100),
	taskTier(5, "Workhorse", 500),
	taskTier(6, "Machine", 1000),

	earnTier(10, "First Coins", 100),
	earnTier(11, "Saver", 1000),
	earnTier(12, "Collector", 10000),
	earnTier(13, "Hoarder", 50000),
	earnTier(14, "Tycoon", 100000),

	streakTier(20, "One Week Streak", 7),
	streakTier(21, "Two Week Streak", 14),
	streakTier(22, "One Month Streak", 30),

	referralTier(30, "Recruiter", 5),
	referralTier(31, "Ambassador", 25),
}

// Champion badge IDs, indexed by rank 1..3.
var (
	weeklyChampions  = [3]badge.Badge{championDef(40, "Weekly Champion", 1), championDef(41, "Weekly Runner-Up", 2), championDef(42, "Weekly Third Place", 3)}
	monthlyChampions = [3]badge.Badge{championDef(43, "Monthly Champion", 1), championDef(44, "Monthly Runner-Up", 2), championDef(45, "Monthly Third Place", 3)}
)

func championDef(id int64, name string, rank int) badge.Badge {
	return badge.Badge{ID: id, Name: name, Category: badge.CategoryLeaderboard, PredicateID: fmt.Sprintf("champion_rank_%d", rank)}
}

// Evaluate returns every badge the stats satisfy. The caller awards the
// difference against what the user already holds.
func Evaluate(s Stats) []badge.Badge {
	var out []badge.Badge
	for _, r := range table {
		if r.pred(s) {
			out = append(out, r.def)
		}
	}
	return out
}

// Champion returns the leaderboard badge for a top-three rank in the given
// period, or false for any other rank.
func Champion(period leaderboard.Period, rank int) (badge.Badge, bool) {
	if rank < 1 || rank > 3 {
		return badge.Badge{}, false
	}
	if period == leaderboard.PeriodMonthly {
		return monthlyChampions[rank-1], true
	}
	return weeklyChampions[rank-1], true
}

// Catalogue lists every defined badge, champions included.
func Catalogue() []badge.Badge {
	out := make([]badge.Badge, 0, len(table)+6)
	for _, r := range table {
		out = append(out, r.def)
	}
	out = append(out, weeklyChampions[:]...)
	out = append(out, monthlyChampions[:]...)
	return out
}
