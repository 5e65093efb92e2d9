package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/flowforge/store"
	"github.com/BaSui01/flowforge/types"
)

// Resolver computes which node instances of a workflow instance may start
// next. A pending node is eligible when every incoming edge is decided and at
// least one is satisfied. An edge is satisfied when its predecessor completed
// and, for conditional edges, the condition holds against the predecessor's
// output. An edge is dead when it can never be satisfied: the condition
// evaluated false, the predecessor was cancelled, or the predecessor itself
// is only reachable through dead edges. Dead edges let joins fire without
// waiting on branches that were never taken.
type Resolver struct {
	store  *store.Store
	logger *zap.Logger
}

// NewResolver creates a resolver over the store.
func NewResolver(st *store.Store, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: st, logger: logger.With(zap.String("component", "resolver"))}
}

// graphState is the loaded snapshot the resolver works on.
type graphState struct {
	connections []store.NodeConnection
	// incoming edges per definition node id
	incoming map[string][]store.NodeConnection
	// node instance per definition node id
	byNodeID map[string]*store.NodeInstance
	// all node instances of the workflow instance
	instances []store.NodeInstance
	// memoized dead-node computation
	dead map[string]bool
}

func (r *Resolver) load(ctx context.Context, inst *store.WorkflowInstance) (*graphState, error) {
	conns, err := r.store.ListConnections(ctx, inst.WorkflowID)
	if err != nil {
		return nil, err
	}
	nis, err := r.store.ListNodeInstances(ctx, inst.ID)
	if err != nil {
		return nil, err
	}
	gs := &graphState{
		connections: conns,
		incoming:    make(map[string][]store.NodeConnection),
		byNodeID:    make(map[string]*store.NodeInstance, len(nis)),
		instances:   nis,
		dead:        make(map[string]bool),
	}
	for _, c := range conns {
		gs.incoming[c.ToNodeID] = append(gs.incoming[c.ToNodeID], c)
	}
	for i := range nis {
		gs.byNodeID[nis[i].NodeID] = &nis[i]
	}
	return gs, nil
}

// EligibleNodes returns the pending node instances that may start now.
func (r *Resolver) EligibleNodes(ctx context.Context, inst *store.WorkflowInstance) ([]store.NodeInstance, error) {
	gs, err := r.load(ctx, inst)
	if err != nil {
		return nil, err
	}

	var eligible []store.NodeInstance
	for _, ni := range gs.instances {
		if ni.Status != types.NodePending {
			continue
		}
		if r.nodeEligible(ni.NodeID, gs) {
			eligible = append(eligible, ni)
		}
	}
	return eligible, nil
}

// nodeEligible holds when every incoming edge is decided (satisfied or dead)
// and at least one is satisfied. Nodes without incoming edges, i.e. start
// nodes, are eligible immediately.
func (r *Resolver) nodeEligible(nodeID string, gs *graphState) bool {
	edges := gs.incoming[nodeID]
	if len(edges) == 0 {
		return true
	}
	anySatisfied := false
	for _, edge := range edges {
		switch {
		case r.edgeSatisfied(edge, gs):
			anySatisfied = true
		case r.edgeDead(edge, gs):
			// decided, but contributes nothing
		default:
			return false
		}
	}
	return anySatisfied
}

func (r *Resolver) edgeSatisfied(edge store.NodeConnection, gs *graphState) bool {
	pred, ok := gs.byNodeID[edge.FromNodeID]
	if !ok || pred.Status != types.NodeCompleted {
		return false
	}
	if edge.Type != types.ConnectionConditional {
		return true
	}
	met, err := EvalCondition(edge.Condition, pred.OutputData)
	if err != nil {
		// Malformed conditions never satisfy the edge.
		r.logger.Warn("condition evaluation failed, treating as false",
			zap.String("from_node", edge.FromNodeID),
			zap.String("to_node", edge.ToNodeID),
			zap.String("condition", edge.Condition),
			zap.Error(err))
		return false
	}
	return met
}

// edgeDead holds when the edge can never be satisfied anymore.
func (r *Resolver) edgeDead(edge store.NodeConnection, gs *graphState) bool {
	pred, ok := gs.byNodeID[edge.FromNodeID]
	if !ok {
		return true
	}
	switch pred.Status {
	case types.NodeCancelled:
		return true
	case types.NodeCompleted:
		if edge.Type != types.ConnectionConditional {
			return false
		}
		met, err := EvalCondition(edge.Condition, pred.OutputData)
		return err != nil || !met
	case types.NodePending:
		return r.nodeDead(edge.FromNodeID, gs)
	default:
		return false
	}
}

// nodeDead holds for a pending node whose every incoming edge is dead: it sits
// on a branch that was not taken. The graph is acyclic, so the recursion
// terminates; memoization keeps repeated join lookups cheap.
func (r *Resolver) nodeDead(nodeID string, gs *graphState) bool {
	if dead, ok := gs.dead[nodeID]; ok {
		return dead
	}
	edges := gs.incoming[nodeID]
	if len(edges) == 0 {
		gs.dead[nodeID] = false
		return false
	}
	for _, edge := range edges {
		if !r.edgeDead(edge, gs) {
			gs.dead[nodeID] = false
			return false
		}
	}
	gs.dead[nodeID] = true
	return true
}

// UpstreamOutputs gathers the completed predecessors' outputs for a node,
// keyed by node name. Used to seed a starting node's input data.
func (r *Resolver) UpstreamOutputs(ctx context.Context, inst *store.WorkflowInstance, nodeID string) (types.JSONMap, error) {
	gs, err := r.load(ctx, inst)
	if err != nil {
		return nil, err
	}
	out := types.JSONMap{}
	for _, c := range gs.connections {
		if c.ToNodeID != nodeID {
			continue
		}
		if pred, ok := gs.byNodeID[c.FromNodeID]; ok && pred.Status == types.NodeCompleted {
			out[pred.NodeName] = map[string]any(pred.OutputData)
		}
	}
	return out, nil
}
