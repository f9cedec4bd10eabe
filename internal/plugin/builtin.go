package plugin

import (
	"context"
	"fmt"

	"github.com/yairfalse/driftwatch/internal/config"
	"github.com/yairfalse/driftwatch/internal/filter"
	"github.com/yairfalse/driftwatch/providers/aws"
	"github.com/yairfalse/driftwatch/providers/fixture"
	"github.com/yairfalse/driftwatch/providers/terraform"
)

// Built-in source names.
const (
	SourceAWS     = "aws"
	SourceFixture = "fixture"
)

func init() {
	Register(SourceAWS, openAWS)
	Register(SourceFixture, openFixture)
}

// openAWS reads Terraform state from a file or S3 and scans live AWS.
func openAWS(ctx context.Context, cfg *config.Config) (Sources, error) {
	var source terraform.Source = terraform.LocalSource{Path: cfg.State.Path}
	if cfg.State.S3Bucket != "" {
		region := cfg.State.S3Region
		if region == "" {
			region = cfg.State.DefaultRegion
		}
		s3, err := terraform.NewS3Source(ctx, cfg.State.S3Bucket, cfg.State.S3Key, region, cfg.AWS.Profile)
		if err != nil {
			return Sources{}, fmt.Errorf("state source: %w", err)
		}
		source = s3
	}

	ignore, err := filter.New(cfg.Normalize.IgnoreResources)
	if err != nil {
		return Sources{}, err
	}
	observed, err := aws.New(ctx, aws.Config{
		Profile:       cfg.AWS.Profile,
		ResourceTypes: cfg.AWS.ResourceTypes,
		ScanType:      ignore.ShouldScanType,
	})
	if err != nil {
		return Sources{}, err
	}

	return Sources{
		Declared: terraform.NewProvider(source, cfg.State.DefaultRegion),
		Observed: observed,
	}, nil
}

// openFixture serves both sides from JSON documents on disk.
func openFixture(_ context.Context, cfg *config.Config) (Sources, error) {
	region := cfg.State.DefaultRegion
	if region == "" {
		region = "us-east-1"
	}
	p := fixture.New(cfg.Scanner.FixturesDir, region)
	return Sources{Declared: p, Observed: p}, nil
}
