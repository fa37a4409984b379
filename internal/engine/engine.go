package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tideflow-io/tideflow/internal/events"
	"github.com/tideflow-io/tideflow/internal/execctx"
	"github.com/tideflow-io/tideflow/internal/executors"
	"github.com/tideflow-io/tideflow/internal/expressions"
	"github.com/tideflow-io/tideflow/internal/logging"
	"github.com/tideflow-io/tideflow/internal/registry"
	"github.com/tideflow-io/tideflow/internal/store"
	"github.com/tideflow-io/tideflow/internal/validation"
	"github.com/tideflow-io/tideflow/pkg/schema"
)

const defaultMaxDepth = 8

// Options configures an Engine.
type Options struct {
	Executors   *executors.Registry
	Definitions registry.Source
	Bus         events.Bus
	Sink        store.Sink
	Logger      *slog.Logger

	// MaxDepth bounds sub-workflow nesting (default 8).
	MaxDepth int
	// DefaultNodeTimeout applies to nodes without their own timeout
	// (zero means no per-attempt deadline).
	DefaultNodeTimeout time.Duration
}

// Engine runs workflow instances: one goroutine per instance walking the
// node graph sequentially, with retry/timeout wrapping, approval gates,
// loops, and sub-workflows. All mutable state is in-memory; the sink is a
// best-effort audit log.
type Engine struct {
	execs              *executors.Registry
	defs               registry.Source
	bus                events.Bus
	sink               store.Sink
	log                *slog.Logger
	maxDepth           int
	defaultNodeTimeout time.Duration

	cel       *expressions.CELEngine
	resolver  *execctx.Resolver
	validator *validation.DefinitionValidator

	mu      sync.RWMutex
	running map[string]*instanceRun
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// New creates an Engine. Executors are required; a nil Bus gets an
// in-memory bus and a nil Sink a no-op sink.
func New(opts Options) (*Engine, error) {
	if opts.Executors == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "executor registry is required")
	}
	if opts.Bus == nil {
		opts.Bus = events.NewMemoryBus()
	}
	if opts.Sink == nil {
		opts.Sink = store.NewNopSink()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = defaultMaxDepth
	}

	cel, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	validator, err := validation.NewDefinitionValidator()
	if err != nil {
		return nil, err
	}

	return &Engine{
		execs:              opts.Executors,
		defs:               opts.Definitions,
		bus:                opts.Bus,
		sink:               opts.Sink,
		log:                opts.Logger,
		maxDepth:           opts.MaxDepth,
		defaultNodeTimeout: opts.DefaultNodeTimeout,
		cel:                cel,
		resolver:           execctx.NewResolver(expressions.NewGoJQEngine()),
		validator:          validator,
		running:            make(map[string]*instanceRun),
	}, nil
}

// StartOptions parameterizes a new instance.
type StartOptions struct {
	DefinitionID string
	Version      string
	// Definition, when set, bypasses the definition source.
	Definition *schema.WorkflowDefinition
	// Variables overlay the definition's initial variables.
	Variables map[string]any
	// Refs are read-only values resolvable as refs.<name>.
	Refs map[string]any
	// StartNode overrides the definition's start node.
	StartNode string
	// InstanceID pins the instance ID (default: random UUID).
	InstanceID string
}

// InstanceState is a point-in-time snapshot of an instance.
type InstanceState struct {
	InstanceID   string                       `json:"instance_id"`
	DefinitionID string                       `json:"definition_id"`
	Version      string                       `json:"version,omitempty"`
	Status       schema.InstanceStatus        `json:"status"`
	CurrentNode  string                       `json:"current_node,omitempty"`
	NodeStatuses map[string]schema.NodeStatus `json:"node_statuses"`
	Variables    map[string]any               `json:"variables"`
	Outputs      []execctx.NodeOutput         `json:"outputs"`
	Error        *schema.FlowError            `json:"error,omitempty"`

	PendingApproval *schema.ApprovalRequest `json:"pending_approval,omitempty"`
	PendingInput    *schema.InputRequest    `json:"pending_input,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Depth      int       `json:"depth"`
	ParentID   string    `json:"parent_id,omitempty"`
}

// gateDecision is the resolution of an approval gate.
type gateDecision struct {
	approved bool
	output   map[string]any
	reason   string
}

// instanceRun is the live state of one instance. The instance goroutine is
// the only writer of execution state; the mutex covers snapshot reads and
// the gate/input handoff.
type instanceRun struct {
	id     string
	def    *schema.WorkflowDefinition
	ec     *execctx.ExecutionContext
	depth  int
	parent string

	ctx    context.Context
	cancel context.CancelFunc
	stop   atomic.Bool
	seq    atomic.Uint64
	done   chan struct{}

	mu           sync.Mutex
	status       schema.InstanceStatus
	currentNode  string
	nodeStatuses map[string]schema.NodeStatus
	err          *schema.FlowError
	startedAt    time.Time
	finishedAt   time.Time

	pendingApproval *schema.ApprovalRequest
	pendingInput    *schema.InputRequest
	gate            chan gateDecision
	input           chan any
}

func (r *instanceRun) stopped() bool {
	return r.stop.Load() || r.ctx.Err() != nil
}

func (r *instanceRun) snapshot() *InstanceState {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make(map[string]schema.NodeStatus, len(r.nodeStatuses))
	for k, v := range r.nodeStatuses {
		statuses[k] = v
	}

	st := &InstanceState{
		InstanceID:   r.id,
		DefinitionID: r.def.ID,
		Version:      r.def.Version,
		Status:       r.status,
		CurrentNode:  r.currentNode,
		NodeStatuses: statuses,
		Variables:    r.ec.Variables(),
		Outputs:      r.ec.Outputs(),
		Error:        r.err,
		StartedAt:    r.startedAt,
		FinishedAt:   r.finishedAt,
		Depth:        r.depth,
		ParentID:     r.parent,
	}
	if r.pendingApproval != nil {
		req := *r.pendingApproval
		st.PendingApproval = &req
	}
	if r.pendingInput != nil {
		req := *r.pendingInput
		st.PendingInput = &req
	}
	return st
}

// StartWorkflow validates the definition and launches a new instance.
// The instance runs in its own goroutine; the returned state reflects the
// moment of launch.
func (e *Engine) StartWorkflow(ctx context.Context, so StartOptions) (*InstanceState, error) {
	return e.start(ctx, so, 0, "")
}

// StartScheduled launches an instance from a registered definition. It is
// the entry point the cron scheduler uses.
func (e *Engine) StartScheduled(ctx context.Context, definitionID, version string, variables map[string]any) (string, error) {
	state, err := e.start(ctx, StartOptions{
		DefinitionID: definitionID,
		Version:      version,
		Variables:    variables,
	}, 0, "")
	if err != nil {
		return "", err
	}
	return state.InstanceID, nil
}

func (e *Engine) start(ctx context.Context, so StartOptions, depth int, parent string) (*InstanceState, error) {
	if e.closed.Load() {
		return nil, schema.NewError(schema.ErrCodeConflict, "engine is shut down")
	}

	def := so.Definition
	if def == nil {
		if e.defs == nil {
			return nil, schema.NewErrorf(schema.ErrCodeDefinitionNotFound,
				"definition %q not found: no definition source configured", so.DefinitionID)
		}
		var err error
		def, err = e.defs.GetDefinition(so.DefinitionID, so.Version)
		if err != nil {
			return nil, schema.AsFlowError(err, schema.ErrCodeDefinitionNotFound)
		}
	}

	if result := e.validator.Validate(def); !result.Valid() {
		return nil, result.ToError()
	}
	if err := e.validateExecutors(def.Nodes); err != nil {
		return nil, err
	}

	startID := so.StartNode
	if startID == "" {
		startID = def.Start()
	}
	if startID == "" || def.Node(startID) == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidStartNode,
			"start node %q does not exist in definition %q", startID, def.ID)
	}

	id := so.InstanceID
	if id == "" {
		id = uuid.NewString()
	}

	vars := make(map[string]any, len(def.Variables)+len(so.Variables))
	for k, v := range def.Variables {
		vars[k] = v
	}
	for k, v := range so.Variables {
		vars[k] = v
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run := &instanceRun{
		id:           id,
		def:          def,
		ec:           execctx.New(id, def.ID, vars, so.Refs, depth),
		depth:        depth,
		parent:       parent,
		ctx:          runCtx,
		cancel:       cancel,
		done:         make(chan struct{}),
		status:       schema.InstancePending,
		nodeStatuses: make(map[string]schema.NodeStatus, len(def.Nodes)),
		startedAt:    time.Now().UTC(),
	}
	for _, n := range def.Nodes {
		run.nodeStatuses[n.ID] = schema.NodePending
	}

	e.mu.Lock()
	if _, exists := e.running[id]; exists {
		e.mu.Unlock()
		cancel()
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "instance %q already exists", id)
	}
	e.running[id] = run
	e.wg.Add(1)
	e.mu.Unlock()

	e.recordInstance(run)

	go e.runInstance(run, startID)

	return run.snapshot(), nil
}

// validateExecutors runs each node's executor validation, descending into
// loop bodies.
func (e *Engine) validateExecutors(nodes []schema.WorkflowNode) error {
	for i := range nodes {
		node := &nodes[i]
		exec, err := e.execs.Get(node.Type)
		if err != nil {
			return schema.AsFlowError(err, schema.ErrCodeValidation).WithNode(node.ID)
		}
		if err := exec.Validate(node); err != nil {
			return err
		}
		if node.Type == schema.NodeTypeLoop {
			var cfg schema.LoopConfig
			if err := node.DecodeConfig(&cfg); err != nil {
				return err
			}
			if err := e.validateExecutors(cfg.Body); err != nil {
				return err
			}
		}
	}
	return nil
}

// StopWorkflow requests cooperative cancellation. An in-flight attempt
// runs to completion (or its own timeout); the stop is honored between
// node steps and at suspension points, and the instance finishes as
// failed with CANCELLED.
func (e *Engine) StopWorkflow(instanceID string) error {
	run, err := e.get(instanceID)
	if err != nil {
		return err
	}

	run.mu.Lock()
	terminal := run.status.Terminal()
	run.mu.Unlock()
	if terminal {
		return schema.NewErrorf(schema.ErrCodeConflict, "instance %q already %s", instanceID, run.status)
	}

	run.stop.Store(true)
	run.cancel()
	return nil
}

// GetWorkflowState returns a snapshot of one instance.
func (e *Engine) GetWorkflowState(instanceID string) (*InstanceState, error) {
	run, err := e.get(instanceID)
	if err != nil {
		return nil, err
	}
	return run.snapshot(), nil
}

// GetRunningWorkflows returns snapshots of all non-terminal instances.
func (e *Engine) GetRunningWorkflows() []*InstanceState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*InstanceState
	for _, run := range e.running {
		st := run.snapshot()
		if !st.Status.Terminal() {
			out = append(out, st)
		}
	}
	return out
}

// Subscribe opens a filtered event subscription on the bus.
func (e *Engine) Subscribe(ctx context.Context, filter events.Filter) (<-chan events.Event, func(), error) {
	return e.bus.Subscribe(ctx, filter)
}

// Shutdown stops accepting work, cancels all live instances, and waits for
// their goroutines until ctx expires.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.closed.Store(true)

	e.mu.RLock()
	for _, run := range e.running {
		run.stop.Store(true)
		run.cancel()
	}
	e.mu.RUnlock()

	doneCh := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) get(instanceID string) (*instanceRun, error) {
	e.mu.RLock()
	run, ok := e.running[instanceID]
	e.mu.RUnlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "instance %q not found", instanceID)
	}
	return run, nil
}

// emit publishes an event on the bus and records it in the sink. Sequence
// numbers are per-instance monotonic; emission happens only from the
// instance goroutine, so subscribers observe a total order.
func (e *Engine) emit(run *instanceRun, nodeID, eventType string, payload any) {
	ev := events.Event{
		InstanceID: run.id,
		NodeID:     nodeID,
		Type:       eventType,
		Sequence:   run.seq.Add(1),
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	}
	if err := e.bus.Publish(context.Background(), ev); err != nil {
		e.log.Warn("event publish failed", "instance_id", run.id, "type", eventType, "error", err)
	}
	if err := e.sink.RecordEvent(context.Background(), store.EventFromBus(ev)); err != nil {
		e.log.Warn("event sink write failed", "instance_id", run.id, "type", eventType, "error", err)
	}
}

// recordInstance best-effort persists the instance snapshot.
func (e *Engine) recordInstance(run *instanceRun) {
	st := run.snapshot()
	rec := &store.InstanceRecord{
		InstanceID:   st.InstanceID,
		DefinitionID: st.DefinitionID,
		Version:      st.Version,
		Status:       string(st.Status),
		StartedAt:    st.StartedAt,
		FinishedAt:   st.FinishedAt,
		Depth:        st.Depth,
		ParentID:     st.ParentID,
	}
	if st.Error != nil {
		rec.ErrorCode = st.Error.Code
		rec.ErrorMessage = st.Error.Message
	}
	if err := e.sink.RecordInstance(context.Background(), rec); err != nil {
		e.log.Warn("instance sink write failed", "instance_id", run.id, "error", err)
	}
}

// logCtx returns a context carrying correlation IDs for slog.
func (e *Engine) logCtx(run *instanceRun, nodeID string) context.Context {
	ctx := logging.WithInstanceID(context.Background(), run.id)
	if nodeID != "" {
		ctx = logging.WithNodeID(ctx, nodeID)
	}
	return ctx
}
