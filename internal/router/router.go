// Package router decides which pool and which relays carry a piece of traffic.
//
// Wallet kinds always travel to the single isolated relay over the isolated
// pool. Everything else travels over the general pool to the general relays,
// with the isolated relay removed even if it was configured there by mistake.
package router

import (
	"strings"

	"github.com/rickgao/relaymesh/internal/model"
)

// Classify maps an event kind to its pool. It is total over all ints.
func Classify(kind int) PoolKind {
	if model.IsIsolatedKind(kind) {
		return PoolIsolated
	}
	return PoolGeneral
}

// ClassifyFilter maps a filter to its pool. A filter is isolated when it
// names at least one kind and every kind is isolated. A filter naming both
// isolated and general kinds is rejected.
func ClassifyFilter(f model.Filter) (PoolKind, error) {
	if len(f.Kinds) == 0 {
		return PoolGeneral, nil
	}

	isolated := 0
	for _, k := range f.Kinds {
		if model.IsIsolatedKind(k) {
			isolated++
		}
	}

	switch isolated {
	case 0:
		return PoolGeneral, nil
	case len(f.Kinds):
		return PoolIsolated, nil
	default:
		return "", ErrMixedKinds
	}
}

// Router routes traffic given the designated isolated relay. It holds no
// mutable state and is safe to copy and share.
type Router struct {
	isolated    string
	isolatedKey string
}

// New creates a Router for the given isolated relay.
func New(isolatedURL string) Router {
	return Router{
		isolated:    isolatedURL,
		isolatedKey: NormalizeURL(isolatedURL),
	}
}

// Isolated returns the isolated relay.
func (r Router) Isolated() string {
	return r.isolated
}

// Route decides where ev goes. For the isolated pool the endpoints are
// exactly the isolated relay, whatever all contains. For the general pool
// they are all minus the isolated relay, in order.
func (r Router) Route(ev model.Event, all []string) Decision {
	return r.decide(Classify(ev.Kind), all)
}

// RouteFilter decides where a query with f goes.
func (r Router) RouteFilter(f model.Filter, all []string) (Decision, error) {
	kind, err := ClassifyFilter(f)
	if err != nil {
		return Decision{}, err
	}
	return r.decide(kind, all), nil
}

// General returns all without the isolated relay, keeping order.
func (r Router) General(all []string) []string {
	out := make([]string, 0, len(all))
	for _, url := range all {
		if r.IsIsolated(url) {
			continue
		}
		out = append(out, url)
	}
	return out
}

// IsIsolated reports whether url is the isolated relay.
func (r Router) IsIsolated(url string) bool {
	return NormalizeURL(url) == r.isolatedKey
}

func (r Router) decide(kind PoolKind, all []string) Decision {
	if kind == PoolIsolated {
		return Decision{Pool: PoolIsolated, Endpoints: []string{r.isolated}}
	}
	return Decision{Pool: PoolGeneral, Endpoints: r.General(all)}
}

// NormalizeURL returns the comparison form of a relay URL: scheme and host
// lowercased, surrounding space and trailing slashes removed.
func NormalizeURL(url string) string {
	u := strings.TrimSpace(url)
	u = strings.TrimRight(u, "/")

	scheme, rest, ok := strings.Cut(u, "://")
	if !ok {
		return strings.ToLower(u)
	}
	host, path, hasPath := strings.Cut(rest, "/")
	out := strings.ToLower(scheme) + "://" + strings.ToLower(host)
	if hasPath {
		out += "/" + path
	}
	return out
}
