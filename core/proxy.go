package core

import (
	"context"
)

// Proxy is a caller-side reference produced by resolving an AgileHandle.
// It routes every call to the apartment captured at wrap time.
type Proxy struct {
	target *Object
	owner  *Apartment
	class  Classification
	handle AgileHandle
}

// ID returns the target object id.
func (p *Proxy) ID() ObjectID {
	return p.target.id
}

// Name returns the target's name.
func (p *Proxy) Name() string {
	return p.target.name
}

// Class returns ClassAgileViaReference for affine targets and ClassAgile
// otherwise.
func (p *Proxy) Class() Classification {
	return p.class
}

// Owner returns the captured owner apartment id.
func (p *Proxy) Owner() ApartmentID {
	if p.owner == nil {
		return NoApartment
	}
	return p.owner.id
}

// Handle returns the handle this proxy was resolved from.
func (p *Proxy) Handle() AgileHandle {
	return p.handle
}

// Invoke calls method on the target through the captured owner.
func (p *Proxy) Invoke(ctx context.Context, method MethodID, args ...any) (any, error) {
	return p.target.rt.dispatch(ctx, p.route(), p.target, method, args)
}

func (p *Proxy) route() route {
	return route{owner: p.owner, class: p.class}
}
