package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	cttypes "github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/yairfalse/driftwatch/pkg/resource"
)

// serviceLinkedPath prefixes roles AWS creates and manages itself.
const serviceLinkedPath = "/aws-service-role/"

func scanIAMRoles(ctx context.Context, c *Clients, region string) ([]resource.RawResource, error) {
	var out []resource.RawResource
	paginator := iam.NewListRolesPaginator(c.IAM, &iam.ListRolesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list roles: %w", err)
		}
		for _, role := range page.Roles {
			if strings.HasPrefix(aws.ToString(role.Path), serviceLinkedPath) {
				continue
			}
			tags, err := c.IAM.ListRoleTags(ctx, &iam.ListRoleTagsInput{RoleName: role.RoleName})
			if err != nil {
				return nil, fmt.Errorf("list tags for role %s: %w", aws.ToString(role.RoleName), err)
			}
			out = append(out, observed("aws_iam_role", region, map[string]any{
				"id":                   aws.ToString(role.RoleName),
				"name":                 aws.ToString(role.RoleName),
				"arn":                  role.Arn,
				"assume_role_policy":   role.AssumeRolePolicyDocument,
				"path":                 role.Path,
				"max_session_duration": role.MaxSessionDuration,
				"description":          role.Description,
				"tags":                 tagMap(tags.Tags, func(t iamtypes.Tag) (*string, *string) { return t.Key, t.Value }),
			}))
		}
	}
	return out, nil
}

// scanKMSKeys lists customer managed keys that are not scheduled for deletion.
func scanKMSKeys(ctx context.Context, c *Clients, region string) ([]resource.RawResource, error) {
	var out []resource.RawResource
	paginator := kms.NewListKeysPaginator(c.KMS, &kms.ListKeysInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list keys: %w", err)
		}
		for _, key := range page.Keys {
			attrs, err := keyAttributes(ctx, c.KMS, key.KeyId)
			if err != nil {
				return nil, err
			}
			if attrs != nil {
				out = append(out, observed("aws_kms_key", region, attrs))
			}
		}
	}
	return out, nil
}

func keyAttributes(ctx context.Context, client KMSAPI, keyID *string) (map[string]any, error) {
	desc, err := client.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: keyID})
	if err != nil {
		return nil, fmt.Errorf("describe key %s: %w", aws.ToString(keyID), err)
	}
	md := desc.KeyMetadata
	if md == nil || md.KeyManager == kmstypes.KeyManagerTypeAws || md.KeyState == kmstypes.KeyStatePendingDeletion {
		return nil, nil
	}

	policy, err := client.GetKeyPolicy(ctx, &kms.GetKeyPolicyInput{KeyId: keyID, PolicyName: aws.String("default")})
	if err != nil {
		return nil, fmt.Errorf("get key policy %s: %w", aws.ToString(keyID), err)
	}
	tags, err := client.ListResourceTags(ctx, &kms.ListResourceTagsInput{KeyId: keyID})
	if err != nil {
		return nil, fmt.Errorf("list key tags %s: %w", aws.ToString(keyID), err)
	}

	return map[string]any{
		"id":                       aws.ToString(md.KeyId),
		"key_id":                   aws.ToString(md.KeyId),
		"arn":                      md.Arn,
		"description":              md.Description,
		"key_usage":                string(md.KeyUsage),
		"customer_master_key_spec": string(md.KeySpec),
		"is_enabled":               md.Enabled,
		"policy":                   policy.Policy,
		"tags":                     tagMap(tags.Tags, func(t kmstypes.Tag) (*string, *string) { return t.TagKey, t.TagValue }),
	}, nil
}

func scanLogGroups(ctx context.Context, c *Clients, region string) ([]resource.RawResource, error) {
	var out []resource.RawResource
	paginator := cloudwatchlogs.NewDescribeLogGroupsPaginator(c.CloudWatchLogs, &cloudwatchlogs.DescribeLogGroupsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe log groups: %w", err)
		}
		for _, g := range page.LogGroups {
			tags, err := c.CloudWatchLogs.ListTagsForResource(ctx, &cloudwatchlogs.ListTagsForResourceInput{ResourceArn: g.LogGroupArn})
			if err != nil {
				return nil, fmt.Errorf("list tags for log group %s: %w", aws.ToString(g.LogGroupName), err)
			}
			retention := int32(0)
			if g.RetentionInDays != nil {
				retention = *g.RetentionInDays
			}
			out = append(out, observed("aws_cloudwatch_log_group", region, map[string]any{
				"id":                aws.ToString(g.LogGroupName),
				"name":              aws.ToString(g.LogGroupName),
				"arn":               g.LogGroupArn,
				"retention_in_days": retention,
				"kms_key_id":        g.KmsKeyId,
				"tags":              stringTags(tags.Tags),
			}))
		}
	}
	return out, nil
}

// scanTrails lists trails whose home region is the scanned region.
func scanTrails(ctx context.Context, c *Clients, region string) ([]resource.RawResource, error) {
	res, err := c.CloudTrail.DescribeTrails(ctx, &cloudtrail.DescribeTrailsInput{IncludeShadowTrails: aws.Bool(false)})
	if err != nil {
		return nil, fmt.Errorf("describe trails: %w", err)
	}
	if len(res.TrailList) == 0 {
		return nil, nil
	}

	arns := make([]string, 0, len(res.TrailList))
	for _, t := range res.TrailList {
		arns = append(arns, aws.ToString(t.TrailARN))
	}
	tagged, err := c.CloudTrail.ListTags(ctx, &cloudtrail.ListTagsInput{ResourceIdList: arns})
	if err != nil {
		return nil, fmt.Errorf("list trail tags: %w", err)
	}
	tags := make(map[string]map[string]any, len(tagged.ResourceTagList))
	for _, rt := range tagged.ResourceTagList {
		tags[aws.ToString(rt.ResourceId)] = tagMap(rt.TagsList, func(t cttypes.Tag) (*string, *string) { return t.Key, t.Value })
	}

	out := make([]resource.RawResource, 0, len(res.TrailList))
	for _, t := range res.TrailList {
		arn := aws.ToString(t.TrailARN)
		out = append(out, observed("aws_cloudtrail", region, map[string]any{
			"id":                            aws.ToString(t.Name),
			"name":                          aws.ToString(t.Name),
			"arn":                           arn,
			"s3_bucket_name":                t.S3BucketName,
			"is_multi_region_trail":         t.IsMultiRegionTrail,
			"include_global_service_events": t.IncludeGlobalServiceEvents,
			"enable_log_file_validation":    t.LogFileValidationEnabled,
			"kms_key_id":                    t.KmsKeyId,
			"tags":                          tags[arn],
		}))
	}
	return out, nil
}
