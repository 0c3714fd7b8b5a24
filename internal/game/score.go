package game

import (
	"math"
	"sort"
	"time"
)

const scoreBase = 50.0

// answer is one correct guess pending scoring.
type answer struct {
	username string
	elapsed  time.Duration
}

// Award is the points granted to one answerer for a round.
type Award struct {
	Username string
	Points   int
	Elapsed  time.Duration
}

// roundAwards ranks answerers by ascending guess time and computes each
// player's points for the round. Players who gave up or never answered get
// nothing. Faster answers lose less to the time penalty; the fastest of
// several answerers earns a bonus scaled by their lead over second place,
// and a lone answerer in a multiplayer room earns a solo bonus.
func roundAwards(answers []answer, roundDuration time.Duration, totalPlayers int) []Award {
	sort.Slice(answers, func(i, j int) bool {
		return answers[i].elapsed < answers[j].elapsed
	})

	awards := make([]Award, 0, len(answers))
	for position, a := range answers {
		timePenalty := (a.elapsed.Seconds() / roundDuration.Seconds()) * 0.5
		points := math.Max(10, scoreBase*(1-timePenalty))

		firstBonus := 0.0
		if position == 0 && len(answers) > 1 {
			gap := (answers[1].elapsed - a.elapsed).Seconds()
			firstBonus = math.Max(0, math.Round(10*(1-gap/5)))
		}

		soloBonus := 0.0
		if len(answers) == 1 {
			soloBonus = 5 * float64(totalPlayers-1)
		}

		awards = append(awards, Award{
			Username: a.username,
			Points:   int(math.Round(points + firstBonus + soloBonus)),
			Elapsed:  a.elapsed,
		})
	}

	return awards
}
