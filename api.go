package ecs

import (
	"context"
	"fmt"
	"reflect"
	"time"
)

// System is executable scheduler logic: a node in the dependency/hierarchy
// graph that the build pass places into an ExecutionPlan and an executor
// invokes once per tick it is scheduled.
type System interface {
	Descriptor() SystemDescriptor
	Run(ctx context.Context, exec ExecutionContext) error
}

// SystemDescriptor names a system and declares its static access set. The
// Name is used only for diagnostics (logs, BuildError messages); identity for
// graph purposes is always the NodeId the registry assigns.
type SystemDescriptor struct {
	Name   string
	Access AccessSet
}

// RunCondition gates a system or a set: the build pass attaches it to the
// declaring node and the condition evaluator guarantees it runs at most once
// per tick regardless of how many systems it gates (spec §4.4).
type RunCondition interface {
	Descriptor() SystemDescriptor
	Evaluate(ctx context.Context, exec ExecutionContext) (bool, error)
}

// FuncSystem adapts a plain function into a System. Its type token is the
// function's code pointer rather than the FuncSystem wrapper type, so two
// systems built from the same factory call-site share a system-type-set
// exactly as two calls to the same generic Rust function would monomorphize
// to the same type.
type FuncSystem struct {
	name   string
	access AccessSet
	fn     func(ctx context.Context, exec ExecutionContext) error
}

// SystemFunc wraps fn as a System with the given name and access set.
func SystemFunc(name string, access AccessSet, fn func(ctx context.Context, exec ExecutionContext) error) *FuncSystem {
	return &FuncSystem{name: name, access: access, fn: fn}
}

func (f *FuncSystem) Descriptor() SystemDescriptor {
	return SystemDescriptor{Name: f.name, Access: f.access}
}

func (f *FuncSystem) Run(ctx context.Context, exec ExecutionContext) error {
	return f.fn(ctx, exec)
}

func (f *FuncSystem) systemTypeToken() any {
	return reflect.ValueOf(f.fn).Pointer()
}

// FuncCondition adapts a plain function into a RunCondition, with the same
// code-pointer type identity as FuncSystem.
type FuncCondition struct {
	name   string
	access AccessSet
	fn     func(ctx context.Context, exec ExecutionContext) (bool, error)
}

// ConditionFunc wraps fn as a RunCondition with the given name and access set.
func ConditionFunc(name string, access AccessSet, fn func(ctx context.Context, exec ExecutionContext) (bool, error)) *FuncCondition {
	return &FuncCondition{name: name, access: access, fn: fn}
}

func (f *FuncCondition) Descriptor() SystemDescriptor {
	return SystemDescriptor{Name: f.name, Access: f.access}
}

func (f *FuncCondition) Evaluate(ctx context.Context, exec ExecutionContext) (bool, error) {
	return f.fn(ctx, exec)
}

func (f *FuncCondition) systemTypeToken() any {
	return reflect.ValueOf(f.fn).Pointer()
}

// ExecutionContext supplies a running system with scoped access to the
// world, the tick's timing, a logger, and a deferred-command sink.
type ExecutionContext interface {
	World() *World
	TimeDelta() time.Duration
	TickIndex() uint64
	Logger() Logger
	Defer(cmd Command)
}

// World encapsulates entity/component storage and resources. The scheduler
// never reaches past this interface surface into a concrete storage engine.
type World struct {
	registry  *EntityRegistry
	storage   StorageProvider
	resources ResourceContainer
}

// StorageProvider manages component storage backends.
type StorageProvider interface {
	RegisterComponent(ComponentType, StorageStrategy) error
	View(ComponentType) (ComponentView, error)
	Apply(*World, []Command) error
}

// StorageStrategy describes how a component type is stored internally.
type StorageStrategy interface {
	Name() string
	NewStore(ComponentType) ComponentStore
}

// ComponentType identifies a component storage bucket.
type ComponentType string

// ComponentStore permits read/write access to component instances.
type ComponentStore interface {
	ComponentView
	Set(EntityID, any) error
	Remove(EntityID) bool
	Clear()
}

// ComponentView exposes read-only iteration over stored components.
type ComponentView interface {
	ComponentType() ComponentType
	Len() int
	Has(EntityID) bool
	Get(EntityID) (any, bool)
	Iterate(func(EntityID, any) bool)
}

// Command represents a deferred mutation applied outside system execution.
type Command interface {
	Apply(world *World) error
}

// Logger captures structured log output from systems and from the scheduler
// itself during build and tick execution.
type Logger interface {
	With(key string, value any) Logger
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// ResourceContainer holds shared resources accessible to systems.
type ResourceContainer interface {
	Get(name string) (any, bool)
	Set(name string, value any)
	Delete(name string)
	Range(func(string, any) bool)
}

// Tracer coordinates tracing spans for observability tooling.
type Tracer interface {
	Start(ctx context.Context, name string) (context.Context, TraceSpan)
}

// TraceSpan represents an active tracing region.
type TraceSpan interface {
	End()
}

// BuildErrorKind tags the structural failure a BuildError reports, matching
// the tier-2 error tags named by the graph model.
type BuildErrorKind uint8

const (
	BuildErrorDependencyCycle BuildErrorKind = iota
	BuildErrorHierarchyCycle
	BuildErrorHierarchyRedundancy
	BuildErrorCrossDependency
	BuildErrorSetsHaveOrderButIntersect
	BuildErrorSystemTypeSetAmbiguity
	BuildErrorAmbiguity
)

func (k BuildErrorKind) String() string {
	switch k {
	case BuildErrorDependencyCycle:
		return "DependencyCycle"
	case BuildErrorHierarchyCycle:
		return "HierarchyCycle"
	case BuildErrorHierarchyRedundancy:
		return "HierarchyRedundancy"
	case BuildErrorCrossDependency:
		return "CrossDependency"
	case BuildErrorSetsHaveOrderButIntersect:
		return "SetsHaveOrderButIntersect"
	case BuildErrorSystemTypeSetAmbiguity:
		return "SystemTypeSetAmbiguity"
	case BuildErrorAmbiguity:
		return "Ambiguity"
	default:
		return "Unknown"
	}
}

// BuildError is the tier-2 structural error the build pass returns from
// Initialize. Nodes holds the NodeIds implicated, in whatever order the
// detecting check discovered them (e.g. cycle order, or the two sides of a
// cross-dependency/intersect pair).
type BuildError struct {
	Kind  BuildErrorKind
	Nodes []NodeId
	msg   string
}

func newBuildError(kind BuildErrorKind, msg string, nodes ...NodeId) *BuildError {
	return &BuildError{Kind: kind, Nodes: nodes, msg: msg}
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

// Is makes errors.Is(err, target) match on Kind whenever target is itself a
// *BuildError, ignoring its nodes and message; the zero-payload sentinels
// below are the intended targets for callers that only care which
// structural class failed.
func (e *BuildError) Is(target error) bool {
	t, ok := target.(*BuildError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// buildErrorSentinel returns a zero-payload *BuildError usable as an
// errors.Is target, e.g. errors.Is(err, DependencyCycleError).
func buildErrorSentinel(kind BuildErrorKind) *BuildError {
	return &BuildError{Kind: kind}
}

var (
	DependencyCycleError             = buildErrorSentinel(BuildErrorDependencyCycle)
	HierarchyCycleError              = buildErrorSentinel(BuildErrorHierarchyCycle)
	HierarchyRedundancyError         = buildErrorSentinel(BuildErrorHierarchyRedundancy)
	CrossDependencyError             = buildErrorSentinel(BuildErrorCrossDependency)
	SetsHaveOrderButIntersectError   = buildErrorSentinel(BuildErrorSetsHaveOrderButIntersect)
	SystemTypeSetAmbiguityError      = buildErrorSentinel(BuildErrorSystemTypeSetAmbiguity)
	AmbiguityError                   = buildErrorSentinel(BuildErrorAmbiguity)
)
