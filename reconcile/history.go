package reconcile

import (
	"sort"

	"github.com/gagliardetto/solana-go"
)

type Participation int

const (
	NotParticipated Participation = iota
	Participated
	Won
	Lost
)

func (p Participation) String() string {
	switch p {
	case Participated:
		return "participated"
	case Won:
		return "won"
	case Lost:
		return "lost"
	default:
		return "not_participated"
	}
}

// HistoryEntry is one challenge from a wallet's point of view.
type HistoryEntry struct {
	Challenge     solana.PublicKey
	Title         string
	Status        Status
	Organized     bool
	Participation Participation
	Captured      int
	// Payout is the lamports the wallet receives if it wins: the whole
	// expected stake, as the settle instruction pays the winner everything
	// above the rent reserve.
	Payout uint64
	EndTs  int64
}

// History lists the challenges wallet organized or joined, most recent
// deadline first.
func History(views []View, wallet solana.PublicKey) []HistoryEntry {
	var out []HistoryEntry
	for _, v := range views {
		joined := v.Challenge.HasParticipant(wallet)
		organized := v.Challenge.Organizer.Equals(wallet)
		if !joined && !organized {
			continue
		}
		e := HistoryEntry{
			Challenge: v.Address(),
			Title:     v.Title(),
			Status:    v.Status,
			Organized: organized,
			Captured:  len(v.Captured(wallet)),
			EndTs:     v.Challenge.EndTs,
		}
		if joined {
			e.Participation = participation(v, wallet)
			if e.Participation != Lost {
				e.Payout = v.Challenge.ExpectedStake()
			}
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EndTs > out[j].EndTs
	})
	return out
}

func participation(v View, wallet solana.PublicKey) Participation {
	if v.Status != StatusCompleted {
		return Participated
	}
	winner, ok := WinnerOf(v)
	if !ok {
		return Participated
	}
	if winner.Equals(wallet) {
		return Won
	}
	return Lost
}
