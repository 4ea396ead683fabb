package biz

import (
	"context"
	"errors"
	"sort"
	"time"

	"InsightLane/internal/conf"
	"InsightLane/internal/data"
	"InsightLane/internal/model"
	pkglog "InsightLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// ServiceCaller performs one remote call to a registered service.
type ServiceCaller interface {
	Call(ctx context.Context, svc *model.ServiceDescriptor, params map[string]any) (any, error)
}

// CircuitEventNotifier receives breaker state changes.
type CircuitEventNotifier interface {
	NotifyStateChange(ctx context.Context, event *model.CircuitStateChangedEvent) error
}

// CircuitEventHistory returns the last persisted state change of a service.
type CircuitEventHistory interface {
	LastEvent(ctx context.Context, service string) (*model.CircuitStateChangedEvent, error)
}

type registeredService struct {
	descriptor *model.ServiceDescriptor
	breaker    *CircuitBreaker
}

// ServiceRegistry maps a service name to its descriptor and breaker. The set of
// services is fixed at construction.
type ServiceRegistry struct {
	services map[string]*registeredService
	names    []string
	history  CircuitEventHistory
	logger   *pkglog.LogHelper
}

// NewServiceRegistry builds the registry from the gateway configuration.
func NewServiceRegistry(c *conf.Gateway, caller ServiceCaller, notifier CircuitEventNotifier, logger log.Logger) (*ServiceRegistry, error) {
	var descriptors []*model.ServiceDescriptor
	if c != nil {
		descriptors = make([]*model.ServiceDescriptor, 0, len(c.Services))
		for _, s := range c.Services {
			descriptors = append(descriptors, &model.ServiceDescriptor{
				Name:           s.Name,
				Endpoint:       s.Endpoint,
				Path:           s.Path,
				Method:         s.Method,
				RateLimit:      s.RateLimit,
				Timeout:        s.Timeout.AsDuration(),
				ErrorThreshold: int(s.ErrorThreshold),
				ResetTimeout:   s.ResetTimeout.AsDuration(),
			})
		}
	}
	return BuildServiceRegistry(descriptors, caller, notifier, logger)
}

// BuildServiceRegistry creates one breaker per descriptor, each wrapping caller.
// notifier may be nil. A notifier that also implements CircuitEventHistory backs
// LastTransition.
func BuildServiceRegistry(descriptors []*model.ServiceDescriptor, caller ServiceCaller, notifier CircuitEventNotifier,
	logger log.Logger, opts ...BreakerOption) (*ServiceRegistry, error) {
	if caller == nil {
		return nil, newInvalidConfigError("service registry requires a caller")
	}

	r := &ServiceRegistry{
		services: make(map[string]*registeredService, len(descriptors)),
		names:    make([]string, 0, len(descriptors)),
		logger:   pkglog.NewLogHelper(logger),
	}
	if h, ok := notifier.(CircuitEventHistory); ok {
		r.history = h
	}

	for _, d := range descriptors {
		if d.Name == "" {
			return nil, newInvalidConfigError("service name is required")
		}
		if _, dup := r.services[d.Name]; dup {
			return nil, newInvalidConfigError("service %q is registered twice", d.Name)
		}

		desc := *d
		op := func(ctx context.Context, params map[string]any) (any, error) {
			return caller.Call(ctx, &desc, params)
		}
		breakerOpts := append([]BreakerOption{WithStateListener(r.stateListener(notifier))}, opts...)
		cb, err := NewCircuitBreaker(desc.Name, BreakerConfig{
			Timeout:        desc.Timeout,
			ErrorThreshold: desc.ErrorThreshold,
			ResetTimeout:   desc.ResetTimeout,
		}, op, breakerOpts...)
		if err != nil {
			return nil, err
		}

		r.services[desc.Name] = &registeredService{descriptor: &desc, breaker: cb}
		r.names = append(r.names, desc.Name)
	}
	sort.Strings(r.names)

	r.logger.Startup("service registry ready", "services", len(r.names))
	return r, nil
}

func (r *ServiceRegistry) stateListener(notifier CircuitEventNotifier) StateListener {
	return func(event *model.CircuitStateChangedEvent) {
		r.logger.Circuit(event.Service, event.From, event.To,
			"failure_count", event.FailureCount, "reason", event.Reason)
		if notifier == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := notifier.NotifyStateChange(ctx, event); err != nil {
			r.logger.Warnw("msg", "circuit event notification failed", "service", event.Service, "error", err)
		}
	}
}

// Resolve returns the descriptor and breaker of name, or an UNKNOWN_SERVICE error.
func (r *ServiceRegistry) Resolve(name string) (*model.ServiceDescriptor, *CircuitBreaker, error) {
	s, ok := r.services[name]
	if !ok {
		return nil, nil, newUnknownServiceError(name)
	}
	return s.descriptor, s.breaker, nil
}

// Names returns the registered service names in sorted order.
func (r *ServiceRegistry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Snapshot returns the breaker state of name.
func (r *ServiceRegistry) Snapshot(name string) (*CircuitSnapshot, error) {
	_, cb, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	return cb.GetState(), nil
}

// LastTransition returns the last persisted state change of name. It returns
// nil when no history is configured or none was recorded.
func (r *ServiceRegistry) LastTransition(ctx context.Context, name string) (*model.CircuitStateChangedEvent, error) {
	if _, _, err := r.Resolve(name); err != nil {
		return nil, err
	}
	if r.history == nil {
		return nil, nil
	}
	event, err := r.history.LastEvent(ctx, name)
	if errors.Is(err, data.ErrCacheNotFound) {
		return nil, nil
	}
	return event, err
}

// Snapshots returns the breaker state of every service, sorted by name.
func (r *ServiceRegistry) Snapshots() []*CircuitSnapshot {
	out := make([]*CircuitSnapshot, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.services[name].breaker.GetState())
	}
	return out
}

// ResetCircuit forces the breaker of name back to CLOSED.
func (r *ServiceRegistry) ResetCircuit(name string) (*CircuitSnapshot, error) {
	_, cb, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	snapshot := cb.Reset()
	r.logger.Warnw("msg", "circuit reset", "service", name, "type", "circuit")
	return snapshot, nil
}
