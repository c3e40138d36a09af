package agent

import (
	"regexp"
	"unicode/utf8"
)

var reasoningPattern = regexp.MustCompile(`(?i)\b(why|explain|compare|comparison|optimi[sz]e|analy[sz]e|analysis|reason|strategy|predict|forecast|trend|difference|should|evaluate|impact)\b`)

// selectModel 在需要推理且有工具参与时选择 Strong 模型，其余情况选择 Fast 模型。
func (a *Agent) selectModel(message string, toolsInPlay bool) string {
	if a.models.Strong == "" {
		return a.models.Fast
	}
	if toolsInPlay && needsReasoning(message, a.reasoningThreshold) {
		return a.models.Strong
	}
	return a.models.Fast
}

func needsReasoning(message string, threshold int) bool {
	if threshold > 0 && utf8.RuneCountInString(message) > threshold {
		return true
	}
	return reasoningPattern.MatchString(message)
}
