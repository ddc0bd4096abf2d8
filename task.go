package phoenix

// Phase identifies one of the scheduler's three sequential stages.
type Phase int

const (
	MapPhase Phase = iota
	ReducePhase
	MergePhase
)

func (p Phase) String() string {
	switch p {
	case MapPhase:
		return "Map"
	case ReducePhase:
		return "Reduce"
	case MergePhase:
		return "Merge"
	}
	return "Unknown"
}
