package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/yairfalse/driftwatch/pkg/resource"
)

func scanInstances(ctx context.Context, c *Clients, region string) ([]resource.RawResource, error) {
	var out []resource.RawResource
	paginator := ec2.NewDescribeInstancesPaginator(c.EC2, &ec2.DescribeInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", err)
		}
		for _, reservation := range page.Reservations {
			for _, inst := range reservation.Instances {
				if inst.State != nil && inst.State.Name == ec2types.InstanceStateNameTerminated {
					continue
				}
				out = append(out, observed("aws_instance", region, instanceAttributes(inst)))
			}
		}
	}
	return out, nil
}

func instanceAttributes(inst ec2types.Instance) map[string]any {
	groups := make([]string, 0, len(inst.SecurityGroups))
	for _, g := range inst.SecurityGroups {
		groups = append(groups, aws.ToString(g.GroupId))
	}

	attrs := map[string]any{
		"id":                     aws.ToString(inst.InstanceId),
		"instance_type":          string(inst.InstanceType),
		"ami":                    inst.ImageId,
		"subnet_id":              inst.SubnetId,
		"vpc_security_group_ids": groups,
		"key_name":               inst.KeyName,
		"ebs_optimized":          inst.EbsOptimized,
		"source_dest_check":      inst.SourceDestCheck,
		"tags":                   tagMap(inst.Tags, func(t ec2types.Tag) (*string, *string) { return t.Key, t.Value }),
	}
	if inst.Monitoring != nil {
		attrs["monitoring"] = inst.Monitoring.State == ec2types.MonitoringStateEnabled
	}
	if inst.IamInstanceProfile != nil {
		// Terraform records the profile name; the API returns its ARN.
		arn := aws.ToString(inst.IamInstanceProfile.Arn)
		attrs["iam_instance_profile"] = arn[strings.LastIndex(arn, "/")+1:]
	}
	return attrs
}

func scanAutoScalingGroups(ctx context.Context, c *Clients, region string) ([]resource.RawResource, error) {
	var out []resource.RawResource
	paginator := autoscaling.NewDescribeAutoScalingGroupsPaginator(c.AutoScaling, &autoscaling.DescribeAutoScalingGroupsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe auto scaling groups: %w", err)
		}
		for _, g := range page.AutoScalingGroups {
			var zones []string
			if ids := aws.ToString(g.VPCZoneIdentifier); ids != "" {
				zones = strings.Split(ids, ",")
			}
			out = append(out, observed("aws_autoscaling_group", region, map[string]any{
				"id":                  aws.ToString(g.AutoScalingGroupName),
				"name":                aws.ToString(g.AutoScalingGroupName),
				"min_size":            g.MinSize,
				"max_size":            g.MaxSize,
				"desired_capacity":    g.DesiredCapacity,
				"health_check_type":   g.HealthCheckType,
				"vpc_zone_identifier": zones,
			}))
		}
	}
	return out, nil
}

func scanLambdaFunctions(ctx context.Context, c *Clients, region string) ([]resource.RawResource, error) {
	var out []resource.RawResource
	paginator := lambda.NewListFunctionsPaginator(c.Lambda, &lambda.ListFunctionsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list functions: %w", err)
		}
		for _, fn := range page.Functions {
			tags, err := c.Lambda.ListTags(ctx, &lambda.ListTagsInput{Resource: fn.FunctionArn})
			if err != nil {
				return nil, fmt.Errorf("list tags for %s: %w", aws.ToString(fn.FunctionName), err)
			}
			out = append(out, observed("aws_lambda_function", region, map[string]any{
				"id":            aws.ToString(fn.FunctionName),
				"function_name": aws.ToString(fn.FunctionName),
				"arn":           fn.FunctionArn,
				"runtime":       string(fn.Runtime),
				"handler":       fn.Handler,
				"memory_size":   fn.MemorySize,
				"timeout":       fn.Timeout,
				"role":          fn.Role,
				"kms_key_arn":   fn.KMSKeyArn,
				"tags":          stringTags(tags.Tags),
			}))
		}
	}
	return out, nil
}

func scanEKSClusters(ctx context.Context, c *Clients, region string) ([]resource.RawResource, error) {
	var out []resource.RawResource
	paginator := eks.NewListClustersPaginator(c.EKS, &eks.ListClustersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list eks clusters: %w", err)
		}
		for _, name := range page.Clusters {
			desc, err := c.EKS.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: aws.String(name)})
			if err != nil {
				return nil, fmt.Errorf("describe eks cluster %s: %w", name, err)
			}
			cluster := desc.Cluster
			if cluster == nil {
				continue
			}
			out = append(out, observed("aws_eks_cluster", region, map[string]any{
				"id":       name,
				"name":     name,
				"arn":      cluster.Arn,
				"version":  cluster.Version,
				"role_arn": cluster.RoleArn,
				"tags":     stringTags(cluster.Tags),
			}))
		}
	}
	return out, nil
}

// describeClustersBatch is the ECS DescribeClusters limit.
const describeClustersBatch = 100

func scanECSClusters(ctx context.Context, c *Clients, region string) ([]resource.RawResource, error) {
	var arns []string
	paginator := ecs.NewListClustersPaginator(c.ECS, &ecs.ListClustersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list ecs clusters: %w", err)
		}
		arns = append(arns, page.ClusterArns...)
	}

	var out []resource.RawResource
	for start := 0; start < len(arns); start += describeClustersBatch {
		end := min(start+describeClustersBatch, len(arns))
		desc, err := c.ECS.DescribeClusters(ctx, &ecs.DescribeClustersInput{
			Clusters: arns[start:end],
			Include:  []ecstypes.ClusterField{ecstypes.ClusterFieldTags},
		})
		if err != nil {
			return nil, fmt.Errorf("describe ecs clusters: %w", err)
		}
		for _, cluster := range desc.Clusters {
			out = append(out, observed("aws_ecs_cluster", region, map[string]any{
				"id":   cluster.ClusterArn,
				"name": aws.ToString(cluster.ClusterName),
				"arn":  cluster.ClusterArn,
				"tags": tagMap(cluster.Tags, func(t ecstypes.Tag) (*string, *string) { return t.Key, t.Value }),
			}))
		}
	}
	return out, nil
}

func scanECRRepositories(ctx context.Context, c *Clients, region string) ([]resource.RawResource, error) {
	var out []resource.RawResource
	paginator := ecr.NewDescribeRepositoriesPaginator(c.ECR, &ecr.DescribeRepositoriesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe repositories: %w", err)
		}
		for _, repo := range page.Repositories {
			tags, err := c.ECR.ListTagsForResource(ctx, &ecr.ListTagsForResourceInput{ResourceArn: repo.RepositoryArn})
			if err != nil {
				return nil, fmt.Errorf("list tags for %s: %w", aws.ToString(repo.RepositoryName), err)
			}
			out = append(out, observed("aws_ecr_repository", region, map[string]any{
				"id":                   aws.ToString(repo.RepositoryName),
				"name":                 aws.ToString(repo.RepositoryName),
				"arn":                  repo.RepositoryArn,
				"image_tag_mutability": string(repo.ImageTagMutability),
				"tags":                 tagMap(tags.Tags, func(t ecrtypes.Tag) (*string, *string) { return t.Key, t.Value }),
			}))
		}
	}
	return out, nil
}
