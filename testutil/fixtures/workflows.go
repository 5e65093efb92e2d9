// 工作流图的测试数据工厂。
//
// 构造 start → 处理节点 → end 形态的工作流定义，并可直接写入测试库。
package fixtures

import (
	"testing"

	"github.com/google/uuid"

	"github.com/BaSui01/flowforge/store"
	"github.com/BaSui01/flowforge/types"
)

// Graph 聚合一个工作流版本的全部定义行。
type Graph struct {
	Workflow    store.Workflow
	Nodes       []store.Node
	Connections []store.NodeConnection
}

// StartNode 返回图中的 start 节点。
func (g *Graph) StartNode() *store.Node { return g.nodeOfType(types.NodeTypeStart) }

// EndNode 返回图中的 end 节点。
func (g *Graph) EndNode() *store.Node { return g.nodeOfType(types.NodeTypeEnd) }

func (g *Graph) nodeOfType(t types.NodeType) *store.Node {
	for i := range g.Nodes {
		if g.Nodes[i].Type == t {
			return &g.Nodes[i]
		}
	}
	return nil
}

// ProcessorNodes 返回图中的处理节点，按创建顺序。
func (g *Graph) ProcessorNodes() []store.Node {
	var out []store.Node
	for _, n := range g.Nodes {
		if n.Type == types.NodeTypeProcessor {
			out = append(out, n)
		}
	}
	return out
}

// Seed 将图写入测试库。
func (g *Graph) Seed(t *testing.T, st *store.Store) {
	t.Helper()
	if err := st.DB().Create(&g.Workflow).Error; err != nil {
		t.Fatalf("seed workflow: %v", err)
	}
	if err := st.DB().Create(&g.Nodes).Error; err != nil {
		t.Fatalf("seed nodes: %v", err)
	}
	if err := st.DB().Create(&g.Connections).Error; err != nil {
		t.Fatalf("seed connections: %v", err)
	}
}

// ProcessorSpec 描述一个处理节点。
type ProcessorSpec struct {
	Name        string
	Processor   types.ProcessorType
	ProcessorID string // human 节点为用户 ID，agent 节点为 agent ID
}

// SequentialGraph 构造 start → p1 → p2 → ... → end 的顺序工作流。
func SequentialGraph(processors ...ProcessorSpec) *Graph {
	wfID := uuid.NewString()
	g := &Graph{
		Workflow: store.Workflow{
			ID:        wfID,
			BaseID:    uuid.NewString(),
			Name:      "sequential",
			Version:   1,
			IsCurrent: true,
			CreatorID: "creator-1",
		},
	}

	start := store.Node{
		ID:         uuid.NewString(),
		WorkflowID: wfID,
		Name:       "start",
		Type:       types.NodeTypeStart,
	}
	g.Nodes = append(g.Nodes, start)

	prev := start.ID
	for _, p := range processors {
		n := store.Node{
			ID:            uuid.NewString(),
			WorkflowID:    wfID,
			Name:          p.Name,
			Type:          types.NodeTypeProcessor,
			ProcessorType: p.Processor,
			ProcessorID:   p.ProcessorID,
			TaskTitle:     p.Name,
		}
		g.Nodes = append(g.Nodes, n)
		g.Connections = append(g.Connections, store.NodeConnection{
			WorkflowID: wfID,
			FromNodeID: prev,
			ToNodeID:   n.ID,
			Type:       types.ConnectionNormal,
		})
		prev = n.ID
	}

	end := store.Node{
		ID:         uuid.NewString(),
		WorkflowID: wfID,
		Name:       "end",
		Type:       types.NodeTypeEnd,
	}
	g.Nodes = append(g.Nodes, end)
	g.Connections = append(g.Connections, store.NodeConnection{
		WorkflowID: wfID,
		FromNodeID: prev,
		ToNodeID:   end.ID,
		Type:       types.ConnectionNormal,
	})
	return g
}

// BranchGraph 构造带条件分支的工作流：
//
//	start → gate → [cond: left] → end
//	              → [cond: right] → end
//
// gate 节点的输出决定走哪条边。leftCond/rightCond 为条件表达式。
func BranchGraph(gate ProcessorSpec, leftCond, rightCond string, left, right ProcessorSpec) *Graph {
	wfID := uuid.NewString()
	g := &Graph{
		Workflow: store.Workflow{
			ID:        wfID,
			BaseID:    uuid.NewString(),
			Name:      "branch",
			Version:   1,
			IsCurrent: true,
			CreatorID: "creator-1",
		},
	}

	start := store.Node{ID: uuid.NewString(), WorkflowID: wfID, Name: "start", Type: types.NodeTypeStart}
	gateN := store.Node{
		ID: uuid.NewString(), WorkflowID: wfID, Name: gate.Name,
		Type: types.NodeTypeProcessor, ProcessorType: gate.Processor, ProcessorID: gate.ProcessorID,
		TaskTitle: gate.Name,
	}
	leftN := store.Node{
		ID: uuid.NewString(), WorkflowID: wfID, Name: left.Name,
		Type: types.NodeTypeProcessor, ProcessorType: left.Processor, ProcessorID: left.ProcessorID,
		TaskTitle: left.Name,
	}
	rightN := store.Node{
		ID: uuid.NewString(), WorkflowID: wfID, Name: right.Name,
		Type: types.NodeTypeProcessor, ProcessorType: right.Processor, ProcessorID: right.ProcessorID,
		TaskTitle: right.Name,
	}
	end := store.Node{ID: uuid.NewString(), WorkflowID: wfID, Name: "end", Type: types.NodeTypeEnd}

	g.Nodes = []store.Node{start, gateN, leftN, rightN, end}
	g.Connections = []store.NodeConnection{
		{WorkflowID: wfID, FromNodeID: start.ID, ToNodeID: gateN.ID, Type: types.ConnectionNormal},
		{WorkflowID: wfID, FromNodeID: gateN.ID, ToNodeID: leftN.ID, Type: types.ConnectionConditional, Condition: leftCond},
		{WorkflowID: wfID, FromNodeID: gateN.ID, ToNodeID: rightN.ID, Type: types.ConnectionConditional, Condition: rightCond},
		{WorkflowID: wfID, FromNodeID: leftN.ID, ToNodeID: end.ID, Type: types.ConnectionNormal},
		{WorkflowID: wfID, FromNodeID: rightN.ID, ToNodeID: end.ID, Type: types.ConnectionNormal},
	}
	return g
}

// HumanSpec 构造一个指派给 userID 的人工处理节点。
func HumanSpec(name, userID string) ProcessorSpec {
	return ProcessorSpec{Name: name, Processor: types.ProcessorHuman, ProcessorID: userID}
}

// AgentSpec 构造一个绑定 agentID 的 agent 处理节点。
func AgentSpec(name, agentID string) ProcessorSpec {
	return ProcessorSpec{Name: name, Processor: types.ProcessorAgent, ProcessorID: agentID}
}
