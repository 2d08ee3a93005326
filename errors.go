package ecs

import "errors"

var (
	// ErrComponentAlreadyRegistered indicates an attempt to register the same component twice.
	ErrComponentAlreadyRegistered = errors.New("ecs: component already registered")
	// ErrComponentNotRegistered signals lookup on an unknown component type.
	ErrComponentNotRegistered = errors.New("ecs: component not registered")
	// ErrNilStorageStrategy is returned when storage registration receives a nil strategy.
	ErrNilStorageStrategy = errors.New("ecs: nil storage strategy")
	// ErrNilComponentStore is returned when a strategy produces a nil store.
	ErrNilComponentStore = errors.New("ecs: strategy returned nil store")
	// ErrWorkerPoolClosed indicates jobs cannot be submitted because the pool closed.
	ErrWorkerPoolClosed = errors.New("ecs: worker pool closed")
	// ErrSelfOrder indicates a system or set was ordered relative to itself
	// (X.Before(X) / X.After(X)); caught immediately at the builder call,
	// not deferred to Initialize.
	ErrSelfOrder = errors.New("ecs: node cannot be ordered relative to itself")
	// ErrSelfHierarchy indicates a system or set was placed in itself
	// (X.InSet(X)); caught immediately at the builder call.
	ErrSelfHierarchy = errors.New("ecs: node cannot contain itself")
	// ErrConfigureTypeSetDirectly indicates a caller attempted to configure
	// a synthetic system-type-set directly (ConfigureSet on a set key the
	// registry only ever mints internally); type-sets are configured
	// implicitly by ordering/conditioning the systems within them.
	ErrConfigureTypeSetDirectly = errors.New("ecs: system-type-sets cannot be configured directly")
	// ErrScheduleNotInitialized indicates Run or RunSequential was called
	// before Initialize produced an ExecutionPlan.
	ErrScheduleNotInitialized = errors.New("ecs: schedule not initialized")
)
