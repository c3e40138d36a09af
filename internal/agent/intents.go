package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"WChain-Bubbles/internal/classify"
	"WChain-Bubbles/internal/holders"
)

// Intent 是一个在进入模型循环之前求值的（匹配, 回答）对。
// 它只用于降低延迟与成本：删除全部意图不影响回答的正确性。
type Intent struct {
	Name   string
	Match  func(message string) bool
	Answer func(ctx context.Context) (string, error)
}

// HolderQuerier 是意图回答所需的持有人查询能力。
type HolderQuerier interface {
	Query(ctx context.Context, kind holders.Kind, p holders.Params) (holders.QueryResult, error)
}

// matchIntent 按顺序求值意图。回答失败时记录日志并交给模型处理。
func (a *Agent) matchIntent(ctx context.Context, message string) (string, string, bool) {
	for _, intent := range a.intents {
		if intent.Match == nil || intent.Answer == nil || !intent.Match(message) {
			continue
		}
		reply, err := intent.Answer(ctx)
		if err != nil {
			a.log.Info("intent fell through to model", "intent", intent.Name, "error", err)
			return "", "", false
		}
		return reply, intent.Name, true
	}
	return "", "", false
}

// RegexIntent 用正则表达式构造匹配函数。
func RegexIntent(name, pattern string, answer func(ctx context.Context) (string, error)) Intent {
	re := regexp.MustCompile(pattern)
	return Intent{Name: name, Match: re.MatchString, Answer: answer}
}

// DefaultIntents 返回内置意图：持有人数量与分类定义。
func DefaultIntents(q HolderQuerier) []Intent {
	return []Intent{
		RegexIntent("holder_count", `(?i)^\s*how many\s+(wco\s+)?(holders|wallets|addresses)\b[^?]*\??\s*$`,
			func(ctx context.Context) (string, error) {
				res, err := q.Query(ctx, holders.KindCount, holders.Params{})
				if err != nil {
					return "", err
				}
				count, ok := res.Result.(holders.HolderCount)
				if !ok {
					return "", fmt.Errorf("unexpected count result %T", res.Result)
				}
				return fmt.Sprintf("There are %d WCO holder addresses, %d of them with a non-zero balance.",
					count.Total, count.WithBalance), nil
			}),
		RegexIntent("tier_definitions", `(?i)^\s*(what|list|show)( are)?( the)?\s+(wallet\s+)?(tiers|categories)\b[^?]*\??\s*$`,
			func(context.Context) (string, error) {
				return describeTiers(), nil
			}),
	}
}

func describeTiers() string {
	var b strings.Builder
	b.WriteString("Wallets are grouped by WCO balance:\n")
	for _, t := range classify.Tiers() {
		if t.Max == nil {
			fmt.Fprintf(&b, "- %s %s: %s WCO and above\n", t.Emoji, t.Name, t.Min.String())
			continue
		}
		fmt.Fprintf(&b, "- %s %s: %s to %s WCO\n", t.Emoji, t.Name, t.Min.String(), t.Max.String())
	}
	b.WriteString("Labelled addresses take precedence over balance:")
	for _, t := range classify.OverrideTiers() {
		fmt.Fprintf(&b, " %s %s", t.Emoji, t.Name)
	}
	b.WriteString(".")
	return b.String()
}
