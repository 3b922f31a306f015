package oracle

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	xerrors "gasless-agent/internal/errors"
)

// ParseAction 将常见的回答归一化为 Action。
func ParseAction(raw string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "act", "yes", "y", "buy", "swap", "true":
		return ActionAct, nil
	case "no_act", "no-act", "noact", "no", "n", "hold", "wait", "skip", "false":
		return ActionNoAct, nil
	default:
		return "", xerrors.New(xerrors.CodeOracleFailure, fmt.Sprintf("无法识别的决策: %q", raw))
	}
}

// structuredReply 是要求模型输出的 JSON 结构。
type structuredReply struct {
	Decision string   `json:"decision"`
	Action   string   `json:"action"`
	Amount   *float64 `json:"amount"`
	From     string   `json:"from"`
	To       string   `json:"to"`
	Reason   string   `json:"reason"`
}

// ParseReply 解析决策方的文本回复。
//
// JSON 回复中 act 且三个参数全部缺省时表示同意提议本身；只给出部分参数视为
// 格式错误。非 JSON 回复仅接受以明确的 yes/no 开头的答案。
func ParseReply(content string, proposal Params) (Decision, error) {
	content = strings.TrimSpace(stripCodeFence(content))
	if content == "" {
		return Decision{}, xerrors.New(xerrors.CodeOracleFailure, "决策回复为空")
	}

	if strings.HasPrefix(content, "{") {
		var reply structuredReply
		if err := json.Unmarshal([]byte(content), &reply); err != nil {
			return Decision{}, xerrors.Wrap(xerrors.CodeOracleFailure, err, "解析决策 JSON 失败")
		}
		verdict := reply.Decision
		if verdict == "" {
			verdict = reply.Action
		}
		action, err := ParseAction(verdict)
		if err != nil {
			return Decision{}, err
		}
		decision := Decision{Action: action, Reason: strings.TrimSpace(reply.Reason)}
		if action == ActionNoAct {
			return decision, nil
		}
		params := Params{From: strings.TrimSpace(reply.From), To: strings.TrimSpace(reply.To)}
		if reply.Amount != nil {
			params.Amount = *reply.Amount
		}
		if params.IsZero() && reply.Amount == nil {
			params = proposal
		}
		decision.Params = params
		return decision, decision.Validate()
	}

	first := strings.FieldsFunc(content, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	if len(first) == 0 {
		return Decision{}, xerrors.New(xerrors.CodeOracleFailure, "决策回复为空")
	}
	action, err := ParseAction(first[0])
	if err != nil {
		return Decision{}, err
	}
	decision := Decision{Action: action, Reason: content}
	if action == ActionAct {
		decision.Params = proposal
	}
	return decision, decision.Validate()
}

func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimPrefix(content, "json")
	return strings.TrimSuffix(strings.TrimSpace(content), "```")
}
