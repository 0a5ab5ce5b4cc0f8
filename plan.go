package cartflow

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// SagaName identifies a saga definition registered with a Runtime.
type SagaName string

// NodeName identifies a node within a saga plan.  Step outputs are recorded
// and looked up by node name.
type NodeName string

// PlanNode is one node appended to a saga plan.
//
// There are three kinds of nodes:
//
//   - a step (StepNode), which delegates to a named Activity under a
//     timeout and retry policy, optionally with a compensation that undoes
//     its side effect when a later step cannot complete
//   - a timer (TimerNode), a durable suspension for a fixed duration that
//     holds no resources and survives a restart of the executing process
//   - a detach (DetachNode), which starts another saga as a detached child
//     run and records the child's handle as its output
type PlanNode interface {
	nodeName() NodeName
}

// Compensation is the corrective action attached to a step: an activity
// invoked with its own timeout and retry policy when a later step fails
// after this step has completed.
type Compensation struct {
	Activity ActivityName
	Timeout  time.Duration
	Policy   RetryPolicy
}

// StepNode delegates one unit of work to a named activity.
type StepNode struct {
	Name         NodeName
	Activity     ActivityName
	Timeout      time.Duration
	Policy       RetryPolicy
	Compensation *Compensation
}

func (n *StepNode) nodeName() NodeName { return n.Name }

// TimerNode suspends the run for a fixed duration.  The wake deadline is
// persisted, so the suspension consumes no compute and resumes correctly
// after a crash.
type TimerNode struct {
	Name     NodeName
	Duration time.Duration
}

func (n *TimerNode) nodeName() NodeName { return n.Name }

// DetachNode starts another saga as a detached child run.  The node's
// output is the child run's handle, recorded so that a resumed run never
// spawns the child twice.
type DetachNode struct {
	Name NodeName
	Saga SagaName
}

func (n *DetachNode) nodeName() NodeName { return n.Name }

// startNode and endNode bracket every built plan.
type startNode struct{}
type endNode struct{}

// Plan is an executable saga definition: named nodes in a dependency graph,
// plus the ordered node names whose outputs compose the success token.
type Plan struct {
	Saga SagaName

	// ResultNodes are joined with " | " to form the terminal success token.
	ResultNodes []NodeName

	graph *simple.DirectedGraph
	nodes map[int64]any // PlanNode, startNode or endNode
}

// order returns the node IDs in execution order using a stabilized
// topological sort for deterministic results.
func (p *Plan) order() ([]int64, error) {
	sorted, err := topo.SortStabilized(p.graph, func(nodes []graph.Node) {
		sort.Slice(nodes, func(i, j int) bool {
			return nodes[i].ID() < nodes[j].ID()
		})
	})
	if err != nil {
		return nil, fmt.Errorf("topological sort failed (cycle?): %w", err)
	}

	order := make([]int64, len(sorted))
	for i, node := range sorted {
		order[i] = node.ID()
	}
	return order, nil
}

// stepByName returns the StepNode with the given name, if any.
func (p *Plan) stepByName(name NodeName) (*StepNode, bool) {
	for _, n := range p.nodes {
		if step, ok := n.(*StepNode); ok && step.Name == name {
			return step, true
		}
	}
	return nil, false
}

// hasNode reports whether a plan node with the given name exists.
func (p *Plan) hasNode(name NodeName) bool {
	for _, n := range p.nodes {
		if pn, ok := n.(PlanNode); ok && pn.nodeName() == name {
			return true
		}
	}
	return false
}

// PlanBuilder builds a saga plan.  Callers append a sequence of nodes; each
// appended node depends on the previously appended one, so execution is
// strictly sequential in append order.
type PlanBuilder struct {
	saga  SagaName
	graph *simple.DirectedGraph
	nodes map[int64]any
	names map[NodeName]struct{}
	last  int64
	first int64
}

// NewPlanBuilder creates a new PlanBuilder.
func NewPlanBuilder(saga SagaName) *PlanBuilder {
	return &PlanBuilder{
		saga:  saga,
		graph: simple.NewDirectedGraph(),
		nodes: make(map[int64]any),
		names: make(map[NodeName]struct{}),
		last:  -1,
		first: -1,
	}
}

// Append adds a node to the plan, depending on the last appended node.
func (b *PlanBuilder) Append(node PlanNode) error {
	name := node.nodeName()
	if name == "" {
		return fmt.Errorf("plan %s: node name is required", b.saga)
	}
	if _, exists := b.names[name]; exists {
		return fmt.Errorf("plan %s: node with name %q already exists", b.saga, name)
	}
	b.names[name] = struct{}{}

	id := b.addNode(node)
	if b.first < 0 {
		b.first = id
	}
	if b.last >= 0 {
		b.graph.SetEdge(simple.Edge{F: b.graph.Node(b.last), T: b.graph.Node(id)})
	}
	b.last = id
	return nil
}

func (b *PlanBuilder) addNode(node any) int64 {
	n := b.graph.NewNode()
	b.graph.AddNode(n)
	b.nodes[n.ID()] = node
	return n.ID()
}

// Build finalizes the plan, wrapping it with start and end nodes.  The
// resultNodes name the steps whose outputs compose the saga's success
// token, in order.
func (b *PlanBuilder) Build(resultNodes ...NodeName) (*Plan, error) {
	if b.first < 0 {
		return nil, fmt.Errorf("plan %s has no nodes", b.saga)
	}
	for _, name := range resultNodes {
		if _, exists := b.names[name]; !exists {
			return nil, fmt.Errorf("plan %s: result node %q does not exist", b.saga, name)
		}
	}

	startID := b.addNode(startNode{})
	endID := b.addNode(endNode{})
	b.graph.SetEdge(simple.Edge{F: b.graph.Node(startID), T: b.graph.Node(b.first)})
	b.graph.SetEdge(simple.Edge{F: b.graph.Node(b.last), T: b.graph.Node(endID)})

	return &Plan{
		Saga:        b.saga,
		ResultNodes: resultNodes,
		graph:       b.graph,
		nodes:       b.nodes,
	}, nil
}
