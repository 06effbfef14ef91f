package service

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// 评估结果中不对外暴露的字段
var strippedEvaluationKeys = map[string]struct{}{
	"transcript":         {},
	"transcript_content": {},
	"quiz_results":       {},
}

// overall_score 字符串的解析顺序，先匹配先生效
var overallScorePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Final Score:\s*(\d+(?:\.\d+)?)`),
	regexp.MustCompile(`(\d+(?:\.\d+)?)\s*/\s*10`),
	regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`),
	regexp.MustCompile(`(\d+(?:\.\d+)?)`),
}

// ScoreResult Score 为 nil 表示未评分，和 0 分不同
type ScoreResult struct {
	Score      *float64
	Evaluation map[string]interface{}
}

type ScoreExtractor struct{}

// Extract 优先级：final_score 数值 → overall_score 数值 → overall_score 字符串解析 → nil
func (ScoreExtractor) Extract(snapshot *EvaluationSnapshot) ScoreResult {
	if snapshot == nil || !snapshot.Confirmed {
		return ScoreResult{}
	}

	results := snapshot.RawEvaluation
	return ScoreResult{
		Score:      extractScore(results),
		Evaluation: buildEvaluation(snapshot),
	}
}

func extractScore(results map[string]interface{}) *float64 {
	if v, ok := numericValue(results["final_score"]); ok {
		return &v
	}
	raw, present := results["overall_score"]
	if !present || raw == nil {
		return nil
	}
	if v, ok := numericValue(raw); ok {
		return &v
	}
	if s, ok := raw.(string); ok {
		return parseOverallScore(s)
	}
	return nil
}

// numericValue JSON 数字；final_score 也可能是纯数字字符串
func numericValue(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t) && !math.IsInf(t, 0)
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func parseOverallScore(s string) *float64 {
	for _, re := range overallScorePatterns {
		m := re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		f, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return nil
		}
		return &f
	}
	return nil
}

func buildEvaluation(snapshot *EvaluationSnapshot) map[string]interface{} {
	out := make(map[string]interface{}, len(snapshot.RawEvaluation)+4)
	for k, v := range snapshot.RawEvaluation {
		if _, skip := strippedEvaluationKeys[k]; skip {
			continue
		}
		out[k] = v
	}
	out["duration"] = snapshot.DurationSeconds
	out["completed_at"] = snapshot.CompletedAt
	out["created_at"] = snapshot.CreatedAt
	out["status"] = snapshot.Status
	return out
}

// 存储层可接受的分数范围
const (
	MinScore = 0
	MaxScore = 100
)

// ValidScore NaN、Inf 以及超出 [MinScore, MaxScore] 的值都无效
func ValidScore(score float64) bool {
	return !math.IsNaN(score) && score >= MinScore && score <= MaxScore
}

// RoundScore 存储层分数为整数，四舍五入（远离零）；无效分数返回 nil
func RoundScore(score *float64) *int {
	if score == nil || !ValidScore(*score) {
		return nil
	}
	v := int(math.Round(*score))
	return &v
}
