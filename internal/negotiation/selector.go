package negotiation

import (
	"slices"

	"github.com/MrWong99/fishtank/internal/judge"
	"github.com/MrWong99/fishtank/internal/session"
)

// MaxResponders caps how many judges reply to one turn.
const MaxResponders = 2

// SelectResponders returns the indices into s.Judges of the judges that
// reply this turn, in speaking order. During evaluation that is the first
// two judges of the panel. Afterwards it is the judges still in, by
// descending conviction with panel order breaking ties. The result may be
// empty.
func SelectResponders(s *session.Session) []int {
	if s.Stage == session.StageEvaluation {
		return firstN(len(s.Judges), MaxResponders)
	}

	idx := make([]int, 0, len(s.Judges))
	for i := range s.Judges {
		if s.Judges[i].Conviction >= judge.OutFloor {
			idx = append(idx, i)
		}
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return s.Judges[b].Conviction - s.Judges[a].Conviction
	})
	if len(idx) > MaxResponders {
		idx = idx[:MaxResponders]
	}
	return idx
}

func firstN(total, n int) []int {
	n = min(total, n)
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
