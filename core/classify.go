package core

import (
	"context"
)

// Classification is the apartment requirement an object declared at
// construction. It never changes afterwards.
type Classification uint8

const (
	// ClassUnclassified is the zero value; objects cannot be built with it
	ClassUnclassified Classification = iota

	// ClassAffine objects always execute on their owner apartment
	ClassAffine

	// ClassAgile objects execute on whichever thread invokes them
	ClassAgile

	// ClassAgileViaReference marks a proxy resolved from an agile handle
	// whose target is affine: calls are forced back to the captured owner
	ClassAgileViaReference
)

// String returns the string representation of Classification.
func (c Classification) String() string {
	switch c {
	case ClassUnclassified:
		return "unclassified"
	case ClassAffine:
		return "affine"
	case ClassAgile:
		return "agile"
	case ClassAgileViaReference:
		return "agile-via-reference"
	default:
		return "unknown"
	}
}

// Route is the classifier's decision for a single call.
type Route uint8

const (
	// RouteInline executes the call on the invoking thread
	RouteInline Route = iota

	// RouteMarshal queues the call on the owner apartment
	RouteMarshal
)

// String returns the string representation of Route.
func (r Route) String() string {
	switch r {
	case RouteInline:
		return "inline"
	case RouteMarshal:
		return "marshal"
	default:
		return "unknown"
	}
}

// route is where calls through a reference must execute. A nil owner
// means no redirection.
type route struct {
	owner *Apartment
	class Classification
}

// Classify reports how a call through ref made from ctx would be routed.
func Classify(ctx context.Context, ref Reference) Route {
	return classify(ctx, ref.route())
}

func classify(ctx context.Context, r route) Route {
	if r.owner == nil {
		return RouteInline
	}
	if cur, ok := CurrentApartment(ctx); ok && cur == r.owner {
		return RouteInline
	}
	return RouteMarshal
}
