// Package providers defines the collaborators that supply declared and
// observed resources to a scan.
package providers

import (
	"context"

	"github.com/yairfalse/driftwatch/pkg/resource"
)

// DeclaredState is the parsed output of a declared-state fetch.
type DeclaredState struct {
	Resources []resource.RawResource
	// Version and Serial identify the Terraform state snapshot.
	Version int
	Serial  int64
	Lineage string
}

// DeclaredProvider fetches the declared infrastructure model.
// Failures are reported as *StateUnavailableError.
type DeclaredProvider interface {
	FetchDeclared(ctx context.Context) (DeclaredState, error)
}

// RegionResult is the outcome of observing one region.
// Err is a *ScanUnavailableError when the region could not be scanned,
// in which case Resources is empty.
type RegionResult struct {
	Region    string
	Resources []resource.RawResource
	Err       error
}

// ObservedProvider fetches live resources. Each region succeeds or fails
// on its own; a region outage never hides the results of healthy regions.
type ObservedProvider interface {
	FetchObserved(ctx context.Context, regions []string) []RegionResult
}

// DeclaredFunc adapts a function to DeclaredProvider.
type DeclaredFunc func(ctx context.Context) (DeclaredState, error)

// FetchDeclared calls f.
func (f DeclaredFunc) FetchDeclared(ctx context.Context) (DeclaredState, error) {
	return f(ctx)
}

// ObservedFunc adapts a function to ObservedProvider.
type ObservedFunc func(ctx context.Context, regions []string) []RegionResult

// FetchObserved calls f.
func (f ObservedFunc) FetchObserved(ctx context.Context, regions []string) []RegionResult {
	return f(ctx, regions)
}

// Failed returns the regions whose fetch failed, in input order.
func Failed(results []RegionResult) []string {
	var out []string
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r.Region)
		}
	}
	return out
}

// Coverage is implemented by observed providers that only scan some
// resource types. Declared resources of uncovered types are not compared.
type Coverage interface {
	Covers(resourceType string) bool
}

// Globals is implemented by observed providers that scan region-less
// services from a single region.
type Globals interface {
	// GlobalRegion returns the region global types are scanned from.
	GlobalRegion(regions []string) string
	Global(resourceType string) bool
}
