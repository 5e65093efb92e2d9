package agentsvc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/flowforge/store"
	"github.com/BaSui01/flowforge/types"
)

func TestBuildSystemPrompt(t *testing.T) {
	t.Parallel()

	agent := &store.Agent{SystemPrompt: "You are a careful researcher."}
	task := &store.TaskInstance{Description: "Summarize the quarterly numbers."}

	got := buildSystemPrompt(agent, task)
	assert.Equal(t,
		"You are a careful researcher.\n\nTask instructions:\nSummarize the quarterly numbers.",
		got)

	// agent prompt alone
	got = buildSystemPrompt(agent, &store.TaskInstance{})
	assert.Equal(t, "You are a careful researcher.", got)

	// description alone
	got = buildSystemPrompt(&store.Agent{}, task)
	assert.Equal(t, "Task instructions:\nSummarize the quarterly numbers.", got)

	// neither configured falls back to the generic prompt
	got = buildSystemPrompt(&store.Agent{}, &store.TaskInstance{})
	assert.Equal(t,
		"You are an autonomous workflow agent. Complete the task using the provided context.",
		got)
}

func TestBuildUserPrompt_SourcePriority(t *testing.T) {
	t.Parallel()

	task := &store.TaskInstance{
		Title:       "review numbers",
		ContextData: types.JSONMap{"from": "context"},
		InputData:   types.JSONMap{"from": "input"},
	}

	// node input wins over both task maps
	got := buildUserPrompt(task, types.JSONMap{"from": "node"}, 0)
	assert.Contains(t, got, "from: node")
	assert.NotContains(t, got, "from: context")

	// without node input, context data wins over input data
	got = buildUserPrompt(task, nil, 0)
	assert.Contains(t, got, "from: context")
	assert.NotContains(t, got, "from: input")

	// input data is the last resort
	task.ContextData = nil
	got = buildUserPrompt(task, nil, 0)
	assert.Contains(t, got, "from: input")
}

func TestBuildUserPrompt_Shape(t *testing.T) {
	t.Parallel()

	task := &store.TaskInstance{Title: "review numbers"}
	got := buildUserPrompt(task, types.JSONMap{"score": float64(95)}, 0)

	assert.True(t, strings.HasPrefix(got, "Task: review numbers\n"))
	assert.Contains(t, got, "\nContext:\nscore: 95\n")
	assert.True(t, strings.HasSuffix(got, "\nProduce the task result."))

	// no data at all: no context block
	got = buildUserPrompt(task, nil, 0)
	assert.Equal(t, "Task: review numbers\n\nProduce the task result.", got)
}

func TestRenderContext_FlattensAndSorts(t *testing.T) {
	t.Parallel()

	got := renderContext(types.JSONMap{
		"zebra": "last",
		"apple": map[string]any{"b": "two", "a": "one"},
		"count": float64(3),
		"gone":  nil,
	}, 1000)

	assert.Equal(t,
		"apple:\n  a: one\n  b: two\ncount: 3\ngone: null\nzebra: last\n",
		got)
}

func TestRenderContext_TruncatesToBudget(t *testing.T) {
	t.Parallel()

	big := strings.Repeat("lorem ipsum dolor sit amet ", 200)
	got := renderContext(types.JSONMap{"body": big}, 10)

	assert.True(t, strings.HasSuffix(got, "\n[context truncated]\n"))
	assert.Less(t, len(got), len(big), "block must shrink under a tiny budget")
}
