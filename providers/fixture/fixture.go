// Package fixture provides declared and observed providers backed by files,
// so the pipeline runs without AWS credentials.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/driftwatch/pkg/resource"
	"github.com/yairfalse/driftwatch/providers"
	"github.com/yairfalse/driftwatch/providers/terraform"
)

// File names looked up in the fixtures directory. YAML files may also hold JSON.
var (
	declaredFiles = []string{"declared.yaml", "declared.yml", "declared.json"}
	observedFiles = []string{"observed.yaml", "observed.yml", "observed.json"}
	stateFile     = "terraform.tfstate"
)

// Document is the fixture file format.
type Document struct {
	Resources []resource.RawResource `yaml:"resources"`
	// UnavailableRegions simulates regional outages in observed fixtures.
	UnavailableRegions []string `yaml:"unavailable_regions,omitempty"`
}

// Provider serves both sides of a scan from a directory. Files are re-read
// on every fetch so fixtures can be edited while the daemon runs.
type Provider struct {
	dir           string
	defaultRegion string
}

// New returns a fixture provider reading from dir.
func New(dir, defaultRegion string) *Provider {
	return &Provider{dir: dir, defaultRegion: defaultRegion}
}

// FetchDeclared loads declared.yaml, or terraform.tfstate when no YAML fixture exists.
func (p *Provider) FetchDeclared(ctx context.Context) (providers.DeclaredState, error) {
	path, err := p.find(declaredFiles)
	if errors.Is(err, os.ErrNotExist) {
		state := terraform.LocalSource{Path: filepath.Join(p.dir, stateFile)}
		return terraform.NewProvider(state, p.defaultRegion).FetchDeclared(ctx)
	}
	if err != nil {
		return providers.DeclaredState{}, &providers.StateUnavailableError{Source: p.dir, Reason: "find fixture", Err: err}
	}

	doc, err := load(path)
	if err != nil {
		return providers.DeclaredState{}, &providers.StateUnavailableError{Source: path, Reason: "load fixture", Err: err}
	}
	for i := range doc.Resources {
		doc.Resources[i].Source = resource.SourceDeclared
		if doc.Resources[i].Region == "" {
			doc.Resources[i].Region = p.defaultRegion
		}
	}
	return providers.DeclaredState{Resources: doc.Resources, Version: 4}, nil
}

// FetchObserved loads observed.yaml and splits it by region. With no
// regions requested, every region present in the file is reported.
func (p *Provider) FetchObserved(_ context.Context, regions []string) []providers.RegionResult {
	path, err := p.find(observedFiles)
	var doc *Document
	if err == nil {
		doc, err = load(path)
	}
	if err != nil {
		if len(regions) == 0 {
			regions = []string{p.defaultRegion}
		}
		out := make([]providers.RegionResult, 0, len(regions))
		for _, r := range regions {
			out = append(out, providers.RegionResult{Region: r, Err: &providers.ScanUnavailableError{Region: r, Err: err}})
		}
		return out
	}

	byRegion := make(map[string][]resource.RawResource)
	for _, r := range doc.Resources {
		if r.Region == "" {
			r.Region = p.defaultRegion
		}
		r.Source = resource.SourceObserved
		byRegion[r.Region] = append(byRegion[r.Region], r)
	}

	if len(regions) == 0 {
		for r := range byRegion {
			regions = append(regions, r)
		}
		for _, r := range doc.UnavailableRegions {
			if !slices.Contains(regions, r) {
				regions = append(regions, r)
			}
		}
		slices.Sort(regions)
	}

	out := make([]providers.RegionResult, 0, len(regions))
	for _, r := range regions {
		if slices.Contains(doc.UnavailableRegions, r) {
			out = append(out, providers.RegionResult{
				Region: r,
				Err:    &providers.ScanUnavailableError{Region: r, Err: fmt.Errorf("region marked unavailable in %s", path)},
			})
			continue
		}
		out = append(out, providers.RegionResult{Region: r, Resources: byRegion[r]})
	}
	return out
}

func (p *Provider) find(names []string) (string, error) {
	for _, name := range names {
		path := filepath.Join(p.dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("none of %v in %s: %w", names, p.dir, os.ErrNotExist)
}

func load(path string) (*Document, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &doc, nil
}
