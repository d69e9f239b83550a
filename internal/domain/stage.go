package domain

// Stage identifies one step of the per-device audit pipeline. The pipeline is
// a fixed ordered sequence; the only non-linear transition is the jump to
// StageReport when authentication is exhausted.
type Stage int

const (
	StageReachability Stage = iota + 1
	StageAuthenticate
	StageAuthorize
	StageStabilize
	StageCollect
	StageSummarize
	StageClassifyRisk
	StageReport
)

// StageCount is the number of pipeline stages.
const StageCount = 8

var stageNames = map[Stage]string{
	StageReachability: "reachability",
	StageAuthenticate: "authenticate",
	StageAuthorize:    "authorize",
	StageStabilize:    "stabilize",
	StageCollect:      "collect",
	StageSummarize:    "summarize",
	StageClassifyRisk: "classify_risk",
	StageReport:       "report",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "invalid"
}

// Valid reports whether s names a pipeline stage.
func (s Stage) Valid() bool {
	return s >= StageReachability && s <= StageReport
}

// nextStage is the explicit forward transition table. StageReport maps to 0:
// it is terminal.
var nextStage = map[Stage]Stage{
	StageReachability: StageAuthenticate,
	StageAuthenticate: StageAuthorize,
	StageAuthorize:    StageStabilize,
	StageStabilize:    StageCollect,
	StageCollect:      StageSummarize,
	StageSummarize:    StageClassifyRisk,
	StageClassifyRisk: StageReport,
	StageReport:       0,
}

// Next returns the stage that follows s. skipToReport forces the jump to
// StageReport from any stage; it is set when authentication retries are
// exhausted or the task is failed outright. The second return value is false
// once the pipeline is finished.
func Next(s Stage, skipToReport bool) (Stage, bool) {
	if s == StageReport {
		return 0, false
	}
	if skipToReport {
		return StageReport, true
	}
	n, ok := nextStage[s]
	if !ok || n == 0 {
		return 0, false
	}
	return n, true
}

// Stages returns the full ordered pipeline.
func Stages() []Stage {
	out := make([]Stage, 0, StageCount)
	for s := StageReachability; s <= StageReport; s++ {
		out = append(out, s)
	}
	return out
}
