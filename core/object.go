package core

import (
	"context"
)

// Reference is anything calls can be made through: an Object held
// directly, or a Proxy resolved from an agile handle. Marshaling is
// invisible at the call site.
type Reference interface {
	// ID returns the target object id.
	ID() ObjectID

	// Class returns how calls through this reference are routed.
	Class() Classification

	// Owner returns the apartment calls are redirected to, or NoApartment.
	Owner() ApartmentID

	// Invoke calls method on the target, on the apartment it belongs to.
	Invoke(ctx context.Context, method MethodID, args ...any) (any, error)

	route() route
}

// Object wraps a Capability with the apartment requirement declared at
// construction.
type Object struct {
	id      ObjectID
	name    string
	class   Classification
	owner   *Apartment
	payload Capability
	rt      *Runtime
}

// NewObject constructs an object. With ClassAffine the apartment hosted by
// the thread in ctx becomes the owner for the object's whole lifetime;
// with ClassAgile the object has no owner.
func (rt *Runtime) NewObject(ctx context.Context, name string, payload Capability, class Classification) (*Object, error) {
	if payload == nil {
		return nil, ErrNilCapability
	}

	o := &Object{
		id:      ObjectID(rt.objectCounter.Add(1)),
		name:    name,
		class:   class,
		payload: payload,
		rt:      rt,
	}

	switch class {
	case ClassAffine:
		apt, ok := CurrentApartment(ctx)
		if !ok {
			return nil, &CallError{Op: "construct", Object: o.id, Err: ErrNoApartment}
		}
		if !apt.Alive() {
			return nil, &CallError{Op: "construct", Apartment: apt.id, Object: o.id, Err: ErrApartmentGone}
		}
		o.owner = apt
	case ClassAgile:
	default:
		return nil, &CallError{Op: "construct", Object: o.id, Err: ErrUnclassified}
	}

	rt.log.Debug().
		Uint64("object", uint64(o.id)).
		Str("name", name).
		Str("class", class.String()).
		Uint32("owner", uint32(o.Owner())).
		Msg("object constructed")

	return o, nil
}

// ID returns the object id.
func (o *Object) ID() ObjectID {
	return o.id
}

// Name returns the name given at construction.
func (o *Object) Name() string {
	return o.name
}

// Class returns the construction-time classification.
func (o *Object) Class() Classification {
	return o.class
}

// Owner returns the owner apartment id, or NoApartment for agile objects.
func (o *Object) Owner() ApartmentID {
	if o.owner == nil {
		return NoApartment
	}
	return o.owner.id
}

// Invoke calls method on the object's owner apartment.
func (o *Object) Invoke(ctx context.Context, method MethodID, args ...any) (any, error) {
	return o.rt.dispatch(ctx, o.route(), o, method, args)
}

func (o *Object) route() route {
	return route{owner: o.owner, class: o.class}
}
