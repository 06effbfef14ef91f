package service

import (
	"fmt"
	"math"
	"teacher_scenario_backend/internal/model"
)

type ProgressStatus string

const (
	ProgressNotStarted ProgressStatus = "NOT_STARTED"
	ProgressInProgress ProgressStatus = "IN_PROGRESS"
	ProgressCompleted  ProgressStatus = "COMPLETED"
)

// ScenarioProgress 由尝试历史推导出的情景状态，每次读取时重新计算
type ScenarioProgress struct {
	ScenarioID          string         `json:"scenarioId"`
	Status              ProgressStatus `json:"status"`
	CompletedAttempts   int            `json:"completedAttempts"`
	RequiredAttempts    int            `json:"requiredAttempts"`
	AverageScore        *int           `json:"score"`
	IsLocked            bool           `json:"isLocked"`
	LatestAttemptNumber int            `json:"latestAttemptNumber"`
}

type AccessDecision struct {
	Allowed bool   `json:"canAccess"`
	Reason  string `json:"reason,omitempty"`
}

// SequenceStepState 展开后的链中每一步的状态
type SequenceStepState struct {
	model.SequenceStep
	Completed bool `json:"completed"`
	IsLocked  bool `json:"isLocked"`
}

// ProgressionGate 纯函数：输入目录和某位教师的全部尝试记录，输出进度和锁定状态。
// 不访问数据库，也不修改任何记录。
type ProgressionGate struct {
	catalog *ScenarioCatalog
}

func NewProgressionGate(catalog *ScenarioCatalog) *ProgressionGate {
	return &ProgressionGate{catalog: catalog}
}

func (g *ProgressionGate) Catalog() *ScenarioCatalog {
	return g.catalog
}

func completedCounts(history []model.ScenarioAttempt) map[string]int {
	counts := make(map[string]int)
	for i := range history {
		if history[i].IsCompleted() {
			counts[history[i].ScenarioID]++
		}
	}
	return counts
}

// ComputeProgress 返回 scenarioId -> 进度
func (g *ProgressionGate) ComputeProgress(history []model.ScenarioAttempt) map[string]ScenarioProgress {
	out := make(map[string]ScenarioProgress)
	for _, p := range g.OrderedProgress(history) {
		out[p.ScenarioID] = p
	}
	return out
}

// OrderedProgress 按目录顺序返回每个情景的进度
func (g *ProgressionGate) OrderedProgress(history []model.ScenarioAttempt) []ScenarioProgress {
	counts := completedCounts(history)

	type scoreAcc struct {
		sum    float64
		n      int
		latest int
	}
	acc := make(map[string]*scoreAcc)
	for i := range history {
		a := &history[i]
		s, ok := acc[a.ScenarioID]
		if !ok {
			s = &scoreAcc{}
			acc[a.ScenarioID] = s
		}
		if a.AttemptNumber > s.latest {
			s.latest = a.AttemptNumber
		}
		if a.Score != nil {
			s.sum += float64(*a.Score)
			s.n++
		}
	}

	defs := g.catalog.Definitions()
	out := make([]ScenarioProgress, 0, len(defs))
	for _, def := range defs {
		completed := counts[def.ID]
		p := ScenarioProgress{
			ScenarioID:        def.ID,
			Status:            progressStatus(completed, def.RequiredAttempts),
			CompletedAttempts: completed,
			RequiredAttempts:  def.RequiredAttempts,
			IsLocked:          !g.decide(def.ID, counts).Allowed,
		}
		if s, ok := acc[def.ID]; ok {
			p.LatestAttemptNumber = s.latest
			if s.n > 0 {
				avg := int(math.Round(s.sum / float64(s.n)))
				p.AverageScore = &avg
			}
		}
		out = append(out, p)
	}
	return out
}

func progressStatus(completed, required int) ProgressStatus {
	switch {
	case completed >= required:
		return ProgressCompleted
	case completed > 0:
		return ProgressInProgress
	default:
		return ProgressNotStarted
	}
}

func (g *ProgressionGate) IsLocked(scenarioID string, history []model.ScenarioAttempt) bool {
	return !g.decide(scenarioID, completedCounts(history)).Allowed
}

func (g *ProgressionGate) CanAccess(scenarioID string, history []model.ScenarioAttempt) AccessDecision {
	return g.decide(scenarioID, completedCounts(history))
}

func (g *ProgressionGate) decide(scenarioID string, counts map[string]int) AccessDecision {
	rule, ok := g.catalog.Rule(scenarioID)
	if !ok {
		return AccessDecision{Reason: fmt.Sprintf("unknown scenario %q", scenarioID)}
	}
	own := counts[scenarioID]

	if p := rule.Predecessor; p != nil && counts[p.ScenarioID] < p.Count {
		return AccessDecision{Reason: fmt.Sprintf(
			"complete scenario %q first (%d/%d attempts completed)",
			p.ScenarioID, counts[p.ScenarioID], p.Count,
		)}
	}

	if rule.Limit > 0 && own >= rule.Limit {
		return AccessDecision{Reason: fmt.Sprintf(
			"all %d attempts for scenario %q are already completed", rule.Limit, scenarioID,
		)}
	}

	if rule.RelockAt > 0 && own >= rule.RelockAt {
		r := rule.Reopen
		if r == nil {
			return AccessDecision{Reason: fmt.Sprintf(
				"all %d attempts for scenario %q are already completed", rule.RelockAt, scenarioID,
			)}
		}
		if counts[r.ScenarioID] < r.Count {
			return AccessDecision{Reason: fmt.Sprintf(
				"final attempt of scenario %q unlocks after scenario %q has %d completed attempts (%d/%d)",
				scenarioID, r.ScenarioID, r.Count, counts[r.ScenarioID], r.Count,
			)}
		}
	}

	return AccessDecision{Allowed: true}
}

// SequenceState 把完成次数映射到展开后的每一步
func (g *ProgressionGate) SequenceState(history []model.ScenarioAttempt) []SequenceStepState {
	counts := completedCounts(history)
	steps := g.catalog.Sequence()
	out := make([]SequenceStepState, 0, len(steps))
	for _, step := range steps {
		done := counts[step.ScenarioID] >= step.AttemptNumber
		out = append(out, SequenceStepState{
			SequenceStep: step,
			Completed:    done,
			// 只有下一步待完成的那一步可能处于开放状态
			IsLocked: done || counts[step.ScenarioID] != step.AttemptNumber-1 || !g.decide(step.ScenarioID, counts).Allowed,
		})
	}
	return out
}
