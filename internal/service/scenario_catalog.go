package service

import (
	"teacher_scenario_backend/internal/model"
)

// Requirement 某个情景至少完成 Count 次
type Requirement struct {
	ScenarioID string
	Count      int
}

// GateRule 描述一个情景的解锁/重新锁定条件：
//   - Predecessor 未满足时锁定（nil 表示默认解锁）
//   - 自身完成次数达到 RelockAt 后锁定，除非 Reopen 已满足
//   - 自身完成次数达到 Limit 后无论如何锁定
type GateRule struct {
	ScenarioID  string
	Predecessor *Requirement
	RelockAt    int
	Reopen      *Requirement
	Limit       int
}

// ScenarioCatalog 静态情景目录和进阶链
type ScenarioCatalog struct {
	definitions []model.ScenarioDefinition
	slots       []model.ChainSlot
	rules       map[string]GateRule
	byID        map[string]int
}

// NewScenarioCatalog 根据定义和链位置构建目录。每个情景的总要求次数
// 等于它在链上所有位置的次数之和。
func NewScenarioCatalog(defs []model.ScenarioDefinition, slots []model.ChainSlot, rules []GateRule) *ScenarioCatalog {
	c := &ScenarioCatalog{
		slots: append([]model.ChainSlot(nil), slots...),
		rules: make(map[string]GateRule, len(rules)),
		byID:  make(map[string]int, len(defs)),
	}

	totals := make(map[string]int)
	firstPosition := make(map[string]int)
	for _, s := range slots {
		totals[s.ScenarioID] += s.Attempts
		if _, ok := firstPosition[s.ScenarioID]; !ok {
			firstPosition[s.ScenarioID] = s.Position
		}
	}

	// 目录顺序为链上首次出现的顺序
	ordered := make([]model.ScenarioDefinition, 0, len(defs))
	for _, s := range slots {
		if _, seen := c.byID[s.ScenarioID]; seen {
			continue
		}
		for _, d := range defs {
			if d.ID != s.ScenarioID {
				continue
			}
			d.ChainPosition = firstPosition[d.ID]
			d.RequiredAttempts = totals[d.ID]
			c.byID[d.ID] = len(ordered)
			ordered = append(ordered, d)
			break
		}
	}
	c.definitions = ordered

	for _, r := range rules {
		c.rules[r.ScenarioID] = r
	}
	return c
}

// Definitions 按目录顺序返回去重后的情景
func (c *ScenarioCatalog) Definitions() []model.ScenarioDefinition {
	return append([]model.ScenarioDefinition(nil), c.definitions...)
}

func (c *ScenarioCatalog) Slots() []model.ChainSlot {
	return append([]model.ChainSlot(nil), c.slots...)
}

func (c *ScenarioCatalog) Lookup(id string) (model.ScenarioDefinition, bool) {
	idx, ok := c.byID[id]
	if !ok {
		return model.ScenarioDefinition{}, false
	}
	return c.definitions[idx], true
}

// RequiredAttempts 未知情景返回 1
func (c *ScenarioCatalog) RequiredAttempts(id string) int {
	def, ok := c.Lookup(id)
	if !ok {
		return 1
	}
	return def.RequiredAttempts
}

func (c *ScenarioCatalog) Rule(id string) (GateRule, bool) {
	r, ok := c.rules[id]
	return r, ok
}

// Rules 按目录顺序返回
func (c *ScenarioCatalog) Rules() []GateRule {
	out := make([]GateRule, 0, len(c.rules))
	for _, d := range c.definitions {
		if r, ok := c.rules[d.ID]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Sequence 把链按每次尝试展开，情景 "1" 在首尾各出现一次但
// 尝试编号连续（1 和 2）。
func (c *ScenarioCatalog) Sequence() []model.SequenceStep {
	var steps []model.SequenceStep
	attemptSeen := make(map[string]int)
	order := 0
	for _, s := range c.slots {
		for i := 0; i < s.Attempts; i++ {
			order++
			attemptSeen[s.ScenarioID]++
			steps = append(steps, model.SequenceStep{
				Order:         order,
				ScenarioID:    s.ScenarioID,
				SlotPosition:  s.Position,
				AttemptNumber: attemptSeen[s.ScenarioID],
			})
		}
	}
	return steps
}

// DefaultScenarioCatalog 教师培训使用的固定进阶链：
// 1（入门评估）→ 4 ×2 → 2 ×2 → 3 ×2 → 1（最终评估）
func DefaultScenarioCatalog() *ScenarioCatalog {
	defs := []model.ScenarioDefinition{
		{
			ID:                  "1",
			Title:               "PTM Assessment: Handling Parent Concerns",
			Description:         "Navigate a challenging Parent-Teacher Meeting where a parent is concerned about their child's progress. Practice active listening and evidence-based feedback.",
			Difficulty:          "Intermediate",
			EvaluatorScenarioID: "693877e7b8892d3f7b91eb31",
			EmbedURL:            "https://bambinos.app.toughtongueai.com/embed/693877e7b8892d3f7b91eb31?skipPrecheck=true",
		},
		{
			ID:                  "4",
			Title:               "Coach: The Perfect Renewal Call",
			Description:         "Learn the best practices for a renewal call. Focus on value proposition, celebrating student wins, and closing the renewal effectively.",
			Difficulty:          "Intermediate",
			EvaluatorScenarioID: "6942c17a25f8fcc9bc250d03",
			EmbedURL:            "https://bambinos.app.toughtongueai.com/embed/6942c17a25f8fcc9bc250d03?skipPrecheck=true",
		},
		{
			ID:                  "2",
			Title:               "PTM Coach: Framework Mastery",
			Description:         "Master the structural framework for conducting effective PTMs. Focus on the \"Sandwich Method\" of feedback and setting actionable goals.",
			Difficulty:          "Advanced",
			EvaluatorScenarioID: "6939d23e07d90d92fea80199",
			EmbedURL:            "https://bambinos.app.toughtongueai.com/embed/6939d23e07d90d92fea80199?skipPrecheck=true",
		},
		{
			ID:                  "3",
			Title:               "Renewal Roleplay: Hesitant Parent (English Communication)",
			Description:         "Roleplay a renewal conversation with a parent hesitant due to perceived lack of improvement in English communication skills. Address objections convincingly.",
			Difficulty:          "Advanced",
			EvaluatorScenarioID: "693a7c1507d90d92fea80744",
			EmbedURL:            "https://bambinos.app.toughtongueai.com/embed/693a7c1507d90d92fea80744?skipPrecheck=true",
		},
	}

	slots := []model.ChainSlot{
		{Position: 1, ScenarioID: "1", Attempts: 1},
		{Position: 2, ScenarioID: "4", Attempts: 2},
		{Position: 3, ScenarioID: "2", Attempts: 2},
		{Position: 4, ScenarioID: "3", Attempts: 2},
		{Position: 5, ScenarioID: "1", Attempts: 1, Final: true},
	}

	// 情景 "1" 同时是第一环和最后一环：第一次完成后锁定，
	// 直到最后一环（"3"）完成 2 次才重新开放最终评估。
	rules := []GateRule{
		{ScenarioID: "1", RelockAt: 1, Reopen: &Requirement{ScenarioID: "3", Count: 2}, Limit: 2},
		{ScenarioID: "4", Predecessor: &Requirement{ScenarioID: "1", Count: 1}, RelockAt: 2, Limit: 2},
		{ScenarioID: "2", Predecessor: &Requirement{ScenarioID: "4", Count: 2}, RelockAt: 2, Limit: 2},
		{ScenarioID: "3", Predecessor: &Requirement{ScenarioID: "2", Count: 2}, RelockAt: 2, Limit: 2},
	}

	return NewScenarioCatalog(defs, slots, rules)
}
