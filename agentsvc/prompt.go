package agentsvc

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/BaSui01/flowforge/store"
	"github.com/BaSui01/flowforge/types"
)

// defaultContextTokenBudget caps the rendered context block. Upstream
// outputs can be arbitrarily large; the prompt must not be.
const defaultContextTokenBudget = 4000

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// countTokens estimates token usage with the cl100k_base encoding, falling
// back to bytes/4 when the encoding cannot be loaded (offline environments).
func countTokens(s string) int {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			enc = e
		}
	})
	if enc != nil {
		return len(enc.Encode(s, nil, nil))
	}
	return len(s) / 4
}

// buildSystemPrompt composes the agent's system message: the agent's own
// prompt when configured, then the node's static task description.
func buildSystemPrompt(agent *store.Agent, task *store.TaskInstance) string {
	var parts []string
	if agent.SystemPrompt != "" {
		parts = append(parts, agent.SystemPrompt)
	}
	if task.Description != "" {
		parts = append(parts, "Task instructions:\n"+task.Description)
	}
	if len(parts) == 0 {
		parts = append(parts, "You are an autonomous workflow agent. Complete the task using the provided context.")
	}
	return strings.Join(parts, "\n\n")
}

// buildUserPrompt renders the task title plus a context block from the
// task's data. The sources are tried in order and the first non-empty one
// wins: node input data, task context data, task input data.
func buildUserPrompt(task *store.TaskInstance, nodeInput types.JSONMap, tokenBudget int) string {
	if tokenBudget <= 0 {
		tokenBudget = defaultContextTokenBudget
	}

	source := nodeInput
	if len(source) == 0 {
		source = task.ContextData
	}
	if len(source) == 0 {
		source = task.InputData
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", task.Title)
	if len(source) > 0 {
		b.WriteString("\nContext:\n")
		b.WriteString(renderContext(source, tokenBudget))
	}
	b.WriteString("\nProduce the task result.")
	return b.String()
}

// renderContext flattens the map one level, renders values as JSON, and
// truncates the whole block to the token budget.
func renderContext(data types.JSONMap, tokenBudget int) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		switch v := data[k].(type) {
		case map[string]any:
			fmt.Fprintf(&b, "%s:\n", k)
			inner := make([]string, 0, len(v))
			for ik := range v {
				inner = append(inner, ik)
			}
			sort.Strings(inner)
			for _, ik := range inner {
				fmt.Fprintf(&b, "  %s: %s\n", ik, renderValue(v[ik]))
			}
		default:
			fmt.Fprintf(&b, "%s: %s\n", k, renderValue(v))
		}
	}

	block := b.String()
	if countTokens(block) <= tokenBudget {
		return block
	}
	// Truncate on rune boundaries until the budget fits. Token counts are
	// roughly proportional to length, so one re-estimate usually suffices.
	runes := []rune(block)
	for len(runes) > 0 && countTokens(string(runes)) > tokenBudget {
		cut := len(runes) * 9 / 10
		if cut >= len(runes) {
			cut = len(runes) - 1
		}
		runes = runes[:cut]
	}
	return string(runes) + "\n[context truncated]\n"
}

func renderValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return "null"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
