package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/operon/pkg/models"
)

// StepResult is one executed (or replayed) plan step's outcome.
type StepResult struct {
	Index      int
	ID         string
	Tool       string
	Output     json.RawMessage
	Err        error
	DurationMs int64
}

// PlanResult is the ordered outcome of a RunPlan call.
type PlanResult struct {
	PlanID string
	Steps  []StepResult
}

// runScheduledPlan defaults step ids, then dispatches to the sequential fast
// path or the DAG leveler depending on whether the plan declares any
// depends_on edges.
func runScheduledPlan(ctx context.Context, r *Runtime, sessionID string, plan models.Plan, callerPermission models.PermissionLevel) (*PlanResult, error) {
	plan = defaultStepIDs(plan)

	if r.execCtx.Mode == ExecutionReplay {
		if result, ok, err := replayPlan(plan, r.execCtx.Dir); err != nil {
			return nil, err
		} else if ok {
			return result, nil
		}
		// Fixture incomplete: fall through to live execution.
	}

	var (
		result *PlanResult
		err    error
	)
	if !plan.HasDependencies() {
		result, err = runSequential(ctx, r, sessionID, plan, callerPermission)
	} else {
		result, err = runDAG(ctx, r, sessionID, plan, callerPermission)
	}
	if err != nil {
		return result, err
	}

	if r.execCtx.Mode == ExecutionRecord {
		if recErr := recordFixture(plan, result, r.execCtx.Dir); recErr != nil {
			return result, recErr
		}
	}
	return result, nil
}

func defaultStepIDs(plan models.Plan) models.Plan {
	for i := range plan.Steps {
		plan.Steps[i].Index = i
		if plan.Steps[i].ID == "" {
			plan.Steps[i].ID = fmt.Sprintf("step_%d", i)
		}
	}
	return plan
}

func runSequential(ctx context.Context, r *Runtime, sessionID string, plan models.Plan, callerPermission models.PermissionLevel) (*PlanResult, error) {
	result := &PlanResult{PlanID: plan.ID}
	for _, step := range plan.Steps {
		sr := executeStep(ctx, r, sessionID, step, callerPermission)
		result.Steps = append(result.Steps, sr)
		if sr.Err != nil {
			return result, sr.Err
		}
	}
	return result, nil
}

func executeStep(ctx context.Context, r *Runtime, sessionID string, step models.ScheduledStep, callerPermission models.PermissionLevel) StepResult {
	start := time.Now()

	if r.dryRun {
		return StepResult{Index: step.Index, ID: step.ID, Tool: step.Tool, Output: json.RawMessage(`{"dry_run":true}`), DurationMs: time.Since(start).Milliseconds()}
	}

	output, err := r.ExecuteTool(ctx, sessionID, step.Tool, step.Input, callerPermission)
	sr := StepResult{Index: step.Index, ID: step.ID, Tool: step.Tool, Output: output, Err: err, DurationMs: time.Since(start).Milliseconds()}
	if err == nil {
		r.SetStepOutput(step.ID, output)
	}
	return sr
}

// runDAG levels plan.Steps with Kahn's algorithm on depends_on, then runs
// each level's steps concurrently (bounded by r.maxParallel), failing fast
// on the first step error within a level.
func runDAG(ctx context.Context, r *Runtime, sessionID string, plan models.Plan, callerPermission models.PermissionLevel) (*PlanResult, error) {
	levels, err := levelPlan(plan)
	if err != nil {
		return nil, err
	}

	result := &PlanResult{PlanID: plan.ID}
	sem := make(chan struct{}, r.maxParallel)

	for _, level := range levels {
		levelResults := make([]StepResult, len(level))
		var wg sync.WaitGroup
		levelCtx, cancel := context.WithCancel(ctx)

		for i, step := range level {
			wg.Add(1)
			sem <- struct{}{}
			go func(i int, step models.ScheduledStep) {
				defer wg.Done()
				defer func() { <-sem }()
				levelResults[i] = executeStep(levelCtx, r, sessionID, step, callerPermission)
			}(i, step)
		}
		wg.Wait()
		cancel()

		result.Steps = append(result.Steps, levelResults...)
		for _, sr := range levelResults {
			if sr.Err != nil {
				sortStepsByIndex(result.Steps)
				return result, sr.Err
			}
		}
	}

	sortStepsByIndex(result.Steps)
	return result, nil
}

func sortStepsByIndex(steps []StepResult) {
	sort.Slice(steps, func(i, j int) bool { return steps[i].Index < steps[j].Index })
}

// levelPlan runs Kahn's algorithm on the depends_on graph, grouping steps
// into levels of steps whose dependencies are all satisfied by prior levels.
// It rejects unknown dependency ids and detects cycles.
func levelPlan(plan models.Plan) ([][]models.ScheduledStep, error) {
	byID := make(map[string]models.ScheduledStep, len(plan.Steps))
	indegree := make(map[string]int, len(plan.Steps))
	dependents := make(map[string][]string)

	for _, step := range plan.Steps {
		byID[step.ID] = step
		indegree[step.ID] = 0
	}
	for _, step := range plan.Steps {
		for _, dep := range step.DependsOn {
			if _, ok := byID[dep]; !ok {
				return nil, fmt.Errorf("%w: step %q depends on unknown step %q", ErrUnknownDependency, step.ID, dep)
			}
			indegree[step.ID]++
			dependents[dep] = append(dependents[dep], step.ID)
		}
	}

	var levels [][]models.ScheduledStep
	remaining := len(plan.Steps)
	ready := make([]string, 0)
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	for len(ready) > 0 {
		level := make([]models.ScheduledStep, 0, len(ready))
		for _, id := range ready {
			level = append(level, byID[id])
		}
		sort.Slice(level, func(i, j int) bool { return level[i].Index < level[j].Index })
		levels = append(levels, level)
		remaining -= len(ready)

		var next []string
		for _, id := range ready {
			for _, dep := range dependents[id] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		sort.Strings(next)
		ready = next
	}

	if remaining > 0 {
		return nil, ErrCycleDetected
	}
	return levels, nil
}

// replayPlan loads a previously recorded fixture and returns its steps as a
// PlanResult, reporting ok=false if any plan step lacks a fixture entry so
// the caller can fall back to live execution.
func replayPlan(plan models.Plan, dir string) (*PlanResult, bool, error) {
	fixture, err := loadFixture(dir)
	if err != nil {
		return nil, false, err
	}

	byIndex := make(map[int]models.FixtureStepRecord, len(fixture.Steps))
	for _, rec := range fixture.Steps {
		byIndex[rec.Index] = rec
	}

	result := &PlanResult{PlanID: plan.ID}
	for _, step := range plan.Steps {
		rec, ok := byIndex[step.Index]
		if !ok {
			return nil, false, nil
		}
		result.Steps = append(result.Steps, StepResult{
			Index:      rec.Index,
			ID:         step.ID,
			Tool:       rec.Tool,
			Output:     rec.Output,
			DurationMs: rec.DurationMs,
		})
	}
	return result, true, nil
}

// recordFixture writes result's steps, sorted by index, to <dir>/fixture.json.
func recordFixture(plan models.Plan, result *PlanResult, dir string) error {
	steps := make([]models.FixtureStepRecord, 0, len(result.Steps))
	for _, sr := range result.Steps {
		steps = append(steps, models.FixtureStepRecord{
			Index:      sr.Index,
			Tool:       sr.Tool,
			Input:      findStepInput(plan, sr.Index),
			Output:     sr.Output,
			DurationMs: sr.DurationMs,
		})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Index < steps[j].Index })

	fixture := models.Fixture{
		PlanID: plan.ID,
		Steps:  steps,
	}
	return writeFixture(dir, fixture)
}

func findStepInput(plan models.Plan, index int) json.RawMessage {
	for _, step := range plan.Steps {
		if step.Index == index {
			return step.Input
		}
	}
	return nil
}
