package domain

import "testing"

func TestStageOrder(t *testing.T) {
	want := []Stage{
		StageReachability,
		StageAuthenticate,
		StageAuthorize,
		StageStabilize,
		StageCollect,
		StageSummarize,
		StageClassifyRisk,
		StageReport,
	}
	got := Stages()
	if len(got) != StageCount {
		t.Fatalf("Stages() returned %d stages, want %d", len(got), StageCount)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stage %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestStageNamesAreUnique(t *testing.T) {
	seen := map[string]Stage{}
	for _, s := range Stages() {
		name := s.String()
		if name == "invalid" {
			t.Errorf("stage %d has no name", s)
		}
		if prev, dup := seen[name]; dup {
			t.Errorf("stage name %q shared by %d and %d", name, prev, s)
		}
		seen[name] = s
	}
}

func TestNextWalksEveryStage(t *testing.T) {
	stage := StageReachability
	visited := []Stage{stage}
	for {
		next, ok := Next(stage, false)
		if !ok {
			break
		}
		visited = append(visited, next)
		stage = next
	}
	if len(visited) != StageCount {
		t.Fatalf("linear walk visited %d stages, want %d", len(visited), StageCount)
	}
	if visited[len(visited)-1] != StageReport {
		t.Errorf("walk must end at report, ended at %s", visited[len(visited)-1])
	}
}

func TestNextSkipToReport(t *testing.T) {
	for _, s := range Stages() {
		if s == StageReport {
			continue
		}
		next, ok := Next(s, true)
		if !ok || next != StageReport {
			t.Errorf("Next(%s, skip) = %s, %v; report must be reachable from every stage", s, next, ok)
		}
	}
	if _, ok := Next(StageReport, true); ok {
		t.Error("report stage must be terminal")
	}
}

func TestTaskRecordsAreLookedUpByStage(t *testing.T) {
	task := NewAuditTask(Device{ID: "sw1", Host: "10.0.0.1"})
	task.Record(StageResult{Stage: StageAuthenticate, Attempts: 3, Success: true})

	res, ok := task.ResultFor(StageAuthenticate)
	if !ok || !res.Success {
		t.Fatalf("ResultFor(authenticate) = %+v, %v", res, ok)
	}
	if task.Retries[StageAuthenticate] != 2 {
		t.Errorf("retry counter = %d, want 2", task.Retries[StageAuthenticate])
	}
	if _, ok := task.ResultFor(StageCollect); ok {
		t.Error("unrecorded stage must not resolve")
	}
}
