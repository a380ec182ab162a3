package engine

// Stage is the position of one call in the interception state machine:
//
//	NotStarted -> PrologueRun -> RealCallRun -> EpilogueRun -> Done
//	     \              \
//	      \--------------\--> Done   (prologue failure, unsupported entry point)
type Stage uint8

const (
	StageNotStarted Stage = iota
	StagePrologueRun
	StageRealCallRun
	StageEpilogueRun
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageNotStarted:
		return "not_started"
	case StagePrologueRun:
		return "prologue"
	case StageRealCallRun:
		return "real_call"
	case StageEpilogueRun:
		return "epilogue"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// next reports whether to is a legal successor of s.
func (s Stage) next(to Stage) bool {
	switch s {
	case StageNotStarted:
		return to == StagePrologueRun || to == StageDone
	case StagePrologueRun:
		return to == StageRealCallRun || to == StageDone
	case StageRealCallRun:
		return to == StageEpilogueRun
	case StageEpilogueRun:
		return to == StageDone
	}
	return false
}
