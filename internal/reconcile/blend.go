package reconcile

import (
	"log/slog"
	"sort"
)

// Blend unions the two channel result lists by row id and fuses their scores
// into the single authoritative ranking score:
//
//	blend = alpha*trgm + (1-alpha)*sem
//
// A row present in only one channel contributes 0 for the missing score. The
// result is ordered by blend descending with a stable label-ascending
// tie-break and truncated to kFinal.
//
// The two channels must agree on the label of a shared id; a disagreement is
// a data integrity fault. The row is dropped with a warning and processing
// continues — one bad row must not fail the batch.
func Blend(trgm, sem []ChannelHit, alpha float64, kFinal int) []Candidate {
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}

	merged := make(map[int64]*Candidate, len(trgm)+len(sem))
	order := make([]int64, 0, len(trgm)+len(sem))
	dropped := make(map[int64]bool)

	for _, h := range trgm {
		c := &Candidate{ID: h.ID, Label: h.Label, TrgmSim: clip01(h.Score)}
		merged[h.ID] = c
		order = append(order, h.ID)
	}
	for _, h := range sem {
		if existing, ok := merged[h.ID]; ok {
			if existing.Label != h.Label {
				slog.Warn("channel label disagreement, dropping row",
					"id", h.ID,
					"trgm_label", existing.Label,
					"sem_label", h.Label,
				)
				dropped[h.ID] = true
				continue
			}
			existing.SemSim = clip01(h.Score)
			continue
		}
		merged[h.ID] = &Candidate{ID: h.ID, Label: h.Label, SemSim: clip01(h.Score)}
		order = append(order, h.ID)
	}

	out := make([]Candidate, 0, len(order))
	for _, id := range order {
		if dropped[id] {
			continue
		}
		c := merged[id]
		c.Blend = alpha*c.TrgmSim + (1-alpha)*c.SemSim
		out = append(out, *c)
	}

	SortCandidates(out)
	if kFinal > 0 && len(out) > kFinal {
		out = out[:kFinal]
	}
	return out
}

// SortCandidates orders cs by (Blend desc, Label asc). The ordering is the
// contract every candidate list in the system obeys.
func SortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Blend != cs[j].Blend {
			return cs[i].Blend > cs[j].Blend
		}
		return cs[i].Label < cs[j].Label
	})
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
