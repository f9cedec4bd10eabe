// Package aws implements the observed-state provider for live AWS resources.
// Scanners emit Terraform attribute names so declared and observed
// resources normalize to the same shape.
package aws

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/yairfalse/driftwatch/pkg/resource"
	"github.com/yairfalse/driftwatch/providers"
	"github.com/yairfalse/driftwatch/telemetry"
)

// scanner lists one Terraform resource type in a region.
// Global scanners run once, in the first configured region.
type scanner struct {
	typ    string
	global bool
	fn     func(ctx context.Context, c *Clients, region string) ([]resource.RawResource, error)
}

func allScanners() []scanner {
	return []scanner{
		{typ: "aws_instance", fn: scanInstances},
		{typ: "aws_autoscaling_group", fn: scanAutoScalingGroups},
		{typ: "aws_lambda_function", fn: scanLambdaFunctions},
		{typ: "aws_eks_cluster", fn: scanEKSClusters},
		{typ: "aws_ecs_cluster", fn: scanECSClusters},
		{typ: "aws_ecr_repository", fn: scanECRRepositories},
		{typ: "aws_vpc", fn: scanVPCs},
		{typ: "aws_subnet", fn: scanSubnets},
		{typ: "aws_security_group", fn: scanSecurityGroups},
		{typ: "aws_lb", fn: scanLoadBalancers},
		{typ: "aws_route53_zone", global: true, fn: scanHostedZones},
		{typ: "aws_s3_bucket", global: true, fn: scanBuckets},
		{typ: "aws_db_instance", fn: scanDBInstances},
		{typ: "aws_dynamodb_table", fn: scanDynamoDBTables},
		{typ: "aws_sqs_queue", fn: scanQueues},
		{typ: "aws_redshift_cluster", fn: scanRedshiftClusters},
		{typ: "aws_memorydb_cluster", fn: scanMemoryDBClusters},
		{typ: "aws_iam_role", global: true, fn: scanIAMRoles},
		{typ: "aws_kms_key", fn: scanKMSKeys},
		{typ: "aws_cloudwatch_log_group", fn: scanLogGroups},
		{typ: "aws_cloudtrail", fn: scanTrails},
	}
}

// SupportedTypes lists every Terraform type the provider can scan.
func SupportedTypes() []string {
	out := make([]string, 0, len(allScanners()))
	for _, s := range allScanners() {
		out = append(out, s.typ)
	}
	slices.Sort(out)
	return out
}

// Config holds AWS provider configuration.
type Config struct {
	Profile string
	// ResourceTypes restricts scanning. Empty scans every supported type.
	ResourceTypes []string
	// ScanType, when set, drops types it rejects from the selection.
	ScanType func(resourceType string) bool
}

// Provider implements providers.ObservedProvider and providers.Coverage.
type Provider struct {
	clients  func(region string) *Clients
	scanners []scanner
	logger   *telemetry.Logger
}

// New creates a provider using the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	base, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	factory := func(region string) *Clients {
		c := base.Copy()
		c.Region = region
		return NewClients(c)
	}
	return newProvider(factory, cfg.ResourceTypes, cfg.ScanType)
}

func newProvider(clients func(region string) *Clients, types []string, scanType func(string) bool) (*Provider, error) {
	scanners := allScanners()
	if len(types) > 0 {
		var selected []scanner
		for _, typ := range types {
			i := slices.IndexFunc(scanners, func(s scanner) bool { return s.typ == typ })
			if i < 0 {
				return nil, fmt.Errorf("unsupported resource type %q", typ)
			}
			selected = append(selected, scanners[i])
		}
		scanners = selected
	}
	if scanType != nil {
		scanners = slices.DeleteFunc(scanners, func(s scanner) bool { return !scanType(s.typ) })
	}
	return &Provider{
		clients:  clients,
		scanners: scanners,
		logger:   telemetry.NewLogger("aws-scanner"),
	}, nil
}

// Covers reports whether the provider scans the given Terraform type.
func (p *Provider) Covers(resourceType string) bool {
	return slices.ContainsFunc(p.scanners, func(s scanner) bool { return s.typ == resourceType })
}

// Global reports whether the type is scanned once rather than per region.
func (p *Provider) Global(resourceType string) bool {
	return slices.ContainsFunc(p.scanners, func(s scanner) bool { return s.typ == resourceType && s.global })
}

// GlobalRegion returns the region global types are scanned from.
func (p *Provider) GlobalRegion(regions []string) string {
	if len(regions) == 0 {
		return ""
	}
	return regions[0]
}

// FetchObserved scans all regions in parallel. A region fails as a whole
// when any of its scanners fails, so partial listings never turn into
// spurious MISSING drift.
func (p *Provider) FetchObserved(ctx context.Context, regions []string) []providers.RegionResult {
	results := make([]providers.RegionResult, len(regions))

	var wg sync.WaitGroup
	for i, region := range regions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = p.scanRegion(ctx, region, i == 0)
		}()
	}
	wg.Wait()

	return results
}

func (p *Provider) scanRegion(ctx context.Context, region string, withGlobal bool) providers.RegionResult {
	start := time.Now()
	clients := p.clients(region)

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		resources []resource.RawResource
		failures  = make([]error, len(p.scanners))
	)

	for i, s := range p.scanners {
		if s.global && !withGlobal {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			found, err := s.fn(ctx, clients, region)
			if err != nil {
				failures[i] = &providers.ScanUnavailableError{Region: region, Scanner: s.typ, Err: err}
				return
			}
			mu.Lock()
			resources = append(resources, found...)
			mu.Unlock()
			p.logger.WithContext(ctx).Debug().Str("region", region).Str("type", s.typ).Int("count", len(found)).Msg("scan complete")
		}()
	}
	wg.Wait()

	for _, err := range failures {
		if err != nil {
			p.logger.WithContext(ctx).Warn().Err(err).Str("region", region).Msg("region scan failed")
			return providers.RegionResult{Region: region, Err: err}
		}
	}

	p.logger.WithContext(ctx).Info().
		Str("region", region).
		Int("resources", len(resources)).
		Dur("duration", time.Since(start)).
		Msg("region scanned")
	return providers.RegionResult{Region: region, Resources: resources}
}

func observed(typ, region string, attrs map[string]any) resource.RawResource {
	return resource.RawResource{
		Type:       typ,
		Region:     region,
		Source:     resource.SourceObserved,
		Attributes: attrs,
	}
}

// tagMap converts an SDK tag list into the Terraform tags map.
func tagMap[T any](tags []T, kv func(T) (*string, *string)) map[string]any {
	out := make(map[string]any, len(tags))
	for _, t := range tags {
		k, v := kv(t)
		if k == nil {
			continue
		}
		out[aws.ToString(k)] = aws.ToString(v)
	}
	return out
}

func stringTags(tags map[string]string) map[string]any {
	out := make(map[string]any, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
