package model

// ScenarioDefinition 静态情景定义，进程启动时加载，不可变
type ScenarioDefinition struct {
	ID                  string `json:"id"`
	Title               string `json:"title"`
	Description         string `json:"description"`
	Difficulty          string `json:"difficulty"`
	EvaluatorScenarioID string `json:"evaluatorScenarioId"`
	EmbedURL            string `json:"customEmbedUrl"`
	ChainPosition       int    `json:"chainPosition"`
	// 整条链上该情景需要完成的总次数
	RequiredAttempts int `json:"requiredAttempts"`
}

// ChainSlot 情景在进阶链中的一个位置。同一情景可以占多个位置，
// 但共享同一个尝试计数。
type ChainSlot struct {
	Position   int    `json:"position"`
	ScenarioID string `json:"scenarioId"`
	Attempts   int    `json:"attempts"`
	Final      bool   `json:"final"`
}

// SequenceStep 按尝试展开后的链，供前端按顺序展示
type SequenceStep struct {
	Order         int    `json:"order"`
	ScenarioID    string `json:"scenarioId"`
	SlotPosition  int    `json:"slotPosition"`
	AttemptNumber int    `json:"attemptNumber"`
}
