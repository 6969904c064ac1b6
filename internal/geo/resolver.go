// Package geo abstracts IP-to-location resolution. Resolution is
// best-effort: an unknown address is not an error, it just yields no
// location, and callers must proceed without one.
package geo

import "context"

// Location is a coarse resolved location. Any field may be empty.
type Location struct {
	Country string
	Region  string
	City    string
}

// Coarse returns "country/region/city" with empty segments omitted, the
// string form stored in an account's known-origin set.
func (l Location) Coarse() string {
	out := l.Country
	if l.Region != "" {
		out += "/" + l.Region
	}
	if l.City != "" {
		out += "/" + l.City
	}
	return out
}

// Resolver resolves an IP address to a coarse location. Implementations
// return (nil, nil) when the address cannot be resolved.
type Resolver interface {
	Resolve(ctx context.Context, ip string) (*Location, error)
}

// NoopResolver never resolves anything. Used when no geolocation
// provider is configured.
type NoopResolver struct{}

func (NoopResolver) Resolve(ctx context.Context, ip string) (*Location, error) {
	return nil, nil
}

// StaticResolver resolves from a fixed table, keyed by IP. Used in tests
// and development environments.
type StaticResolver struct {
	Table map[string]Location
}

func (r *StaticResolver) Resolve(ctx context.Context, ip string) (*Location, error) {
	if loc, ok := r.Table[ip]; ok {
		return &loc, nil
	}
	return nil, nil
}
