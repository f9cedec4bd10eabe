package aws

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/memorydb"
	memorydbtypes "github.com/aws/aws-sdk-go-v2/service/memorydb/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	redshifttypes "github.com/aws/aws-sdk-go-v2/service/redshift/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"

	"github.com/yairfalse/driftwatch/pkg/resource"
)

// scanBuckets lists buckets once for the account and places each in its own region.
func scanBuckets(ctx context.Context, c *Clients, _ string) ([]resource.RawResource, error) {
	list, err := c.S3.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}

	out := make([]resource.RawResource, 0, len(list.Buckets))
	for _, b := range list.Buckets {
		name := aws.ToString(b.Name)

		loc, err := c.S3.GetBucketLocation(ctx, &s3.GetBucketLocationInput{Bucket: b.Name})
		if err != nil {
			return nil, fmt.Errorf("get location of %s: %w", name, err)
		}
		region := string(loc.LocationConstraint)
		if region == "" {
			region = "us-east-1"
		}

		tags := map[string]any{}
		tagging, err := c.S3.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: b.Name})
		switch {
		case err == nil:
			tags = tagMap(tagging.TagSet, func(t s3types.Tag) (*string, *string) { return t.Key, t.Value })
		case !isErrorCode(err, "NoSuchTagSet"):
			return nil, fmt.Errorf("get tagging of %s: %w", name, err)
		}

		out = append(out, observed("aws_s3_bucket", region, map[string]any{
			"id":     name,
			"bucket": name,
			"tags":   tags,
		}))
	}
	return out, nil
}

func isErrorCode(err error, code string) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}

func scanDBInstances(ctx context.Context, c *Clients, region string) ([]resource.RawResource, error) {
	var out []resource.RawResource
	paginator := rds.NewDescribeDBInstancesPaginator(c.RDS, &rds.DescribeDBInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe db instances: %w", err)
		}
		for _, db := range page.DBInstances {
			groups := make([]string, 0, len(db.VpcSecurityGroups))
			for _, g := range db.VpcSecurityGroups {
				groups = append(groups, aws.ToString(g.VpcSecurityGroupId))
			}
			out = append(out, observed("aws_db_instance", region, map[string]any{
				"identifier":              aws.ToString(db.DBInstanceIdentifier),
				"arn":                     db.DBInstanceArn,
				"instance_class":          db.DBInstanceClass,
				"engine":                  db.Engine,
				"engine_version":          db.EngineVersion,
				"allocated_storage":       db.AllocatedStorage,
				"multi_az":                db.MultiAZ,
				"publicly_accessible":     db.PubliclyAccessible,
				"storage_encrypted":       db.StorageEncrypted,
				"kms_key_id":              db.KmsKeyId,
				"backup_retention_period": db.BackupRetentionPeriod,
				"vpc_security_group_ids":  groups,
				"tags":                    tagMap(db.TagList, func(t rdstypes.Tag) (*string, *string) { return t.Key, t.Value }),
			}))
		}
	}
	return out, nil
}

func scanDynamoDBTables(ctx context.Context, c *Clients, region string) ([]resource.RawResource, error) {
	var out []resource.RawResource
	paginator := dynamodb.NewListTablesPaginator(c.DynamoDB, &dynamodb.ListTablesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tables: %w", err)
		}
		for _, name := range page.TableNames {
			desc, err := c.DynamoDB.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
			if err != nil {
				return nil, fmt.Errorf("describe table %s: %w", name, err)
			}
			if desc.Table == nil {
				continue
			}
			tags, err := c.DynamoDB.ListTagsOfResource(ctx, &dynamodb.ListTagsOfResourceInput{ResourceArn: desc.Table.TableArn})
			if err != nil {
				return nil, fmt.Errorf("list tags for table %s: %w", name, err)
			}
			attrs := tableAttributes(*desc.Table)
			attrs["tags"] = tagMap(tags.Tags, func(t ddbtypes.Tag) (*string, *string) { return t.Key, t.Value })
			out = append(out, observed("aws_dynamodb_table", region, attrs))
		}
	}
	return out, nil
}

func tableAttributes(t ddbtypes.TableDescription) map[string]any {
	billing := string(ddbtypes.BillingModeProvisioned)
	if t.BillingModeSummary != nil && t.BillingModeSummary.BillingMode != "" {
		billing = string(t.BillingModeSummary.BillingMode)
	}
	attrs := map[string]any{
		"id":           aws.ToString(t.TableName),
		"name":         aws.ToString(t.TableName),
		"arn":          t.TableArn,
		"billing_mode": billing,
	}
	for _, k := range t.KeySchema {
		switch k.KeyType {
		case ddbtypes.KeyTypeHash:
			attrs["hash_key"] = k.AttributeName
		case ddbtypes.KeyTypeRange:
			attrs["range_key"] = k.AttributeName
		}
	}
	if t.ProvisionedThroughput != nil {
		attrs["read_capacity"] = t.ProvisionedThroughput.ReadCapacityUnits
		attrs["write_capacity"] = t.ProvisionedThroughput.WriteCapacityUnits
	}
	if t.StreamSpecification != nil {
		attrs["stream_enabled"] = t.StreamSpecification.StreamEnabled
	} else {
		attrs["stream_enabled"] = false
	}
	return attrs
}

// queueNumbers maps SQS attribute names to Terraform arguments holding numbers.
var queueNumbers = map[string]string{
	"VisibilityTimeout":      "visibility_timeout_seconds",
	"MessageRetentionPeriod": "message_retention_seconds",
	"DelaySeconds":           "delay_seconds",
	"MaximumMessageSize":     "max_message_size",
}

func scanQueues(ctx context.Context, c *Clients, region string) ([]resource.RawResource, error) {
	var out []resource.RawResource
	paginator := sqs.NewListQueuesPaginator(c.SQS, &sqs.ListQueuesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list queues: %w", err)
		}
		for _, url := range page.QueueUrls {
			qa, err := c.SQS.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
				QueueUrl:       aws.String(url),
				AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameAll},
			})
			if err != nil {
				return nil, fmt.Errorf("get queue attributes %s: %w", url, err)
			}
			tags, err := c.SQS.ListQueueTags(ctx, &sqs.ListQueueTagsInput{QueueUrl: aws.String(url)})
			if err != nil {
				return nil, fmt.Errorf("list queue tags %s: %w", url, err)
			}
			out = append(out, observed("aws_sqs_queue", region, queueAttributes(url, qa.Attributes, tags.Tags)))
		}
	}
	return out, nil
}

// queueAttributes uses the queue URL as the identifier, as Terraform does.
func queueAttributes(url string, raw map[string]string, tags map[string]string) map[string]any {
	attrs := map[string]any{
		"id":         url,
		"url":        url,
		"name":       url[strings.LastIndex(url, "/")+1:],
		"fifo_queue": raw["FifoQueue"] == "true",
		"tags":       stringTags(tags),
	}
	if arn, ok := raw["QueueArn"]; ok {
		attrs["arn"] = arn
	}
	if key, ok := raw["KmsMasterKeyId"]; ok {
		attrs["kms_master_key_id"] = key
	}
	for apiName, tfName := range queueNumbers {
		if n, err := strconv.ParseInt(raw[apiName], 10, 64); err == nil {
			attrs[tfName] = n
		}
	}
	return attrs
}

func scanRedshiftClusters(ctx context.Context, c *Clients, region string) ([]resource.RawResource, error) {
	var out []resource.RawResource
	paginator := redshift.NewDescribeClustersPaginator(c.Redshift, &redshift.DescribeClustersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe redshift clusters: %w", err)
		}
		for _, cl := range page.Clusters {
			out = append(out, observed("aws_redshift_cluster", region, map[string]any{
				"id":                  aws.ToString(cl.ClusterIdentifier),
				"cluster_identifier":  aws.ToString(cl.ClusterIdentifier),
				"node_type":           cl.NodeType,
				"number_of_nodes":     cl.NumberOfNodes,
				"encrypted":           cl.Encrypted,
				"publicly_accessible": cl.PubliclyAccessible,
				"kms_key_id":          cl.KmsKeyId,
				"cluster_version":     cl.ClusterVersion,
				"tags":                tagMap(cl.Tags, func(t redshifttypes.Tag) (*string, *string) { return t.Key, t.Value }),
			}))
		}
	}
	return out, nil
}

func scanMemoryDBClusters(ctx context.Context, c *Clients, region string) ([]resource.RawResource, error) {
	var (
		out   []resource.RawResource
		token *string
	)
	for {
		page, err := c.MemoryDB.DescribeClusters(ctx, &memorydb.DescribeClustersInput{NextToken: token})
		if err != nil {
			return nil, fmt.Errorf("describe memorydb clusters: %w", err)
		}
		for _, cl := range page.Clusters {
			tags, err := c.MemoryDB.ListTags(ctx, &memorydb.ListTagsInput{ResourceArn: cl.ARN})
			if err != nil {
				return nil, fmt.Errorf("list tags for %s: %w", aws.ToString(cl.Name), err)
			}
			out = append(out, observed("aws_memorydb_cluster", region, map[string]any{
				"id":             aws.ToString(cl.Name),
				"name":           aws.ToString(cl.Name),
				"arn":            cl.ARN,
				"node_type":      cl.NodeType,
				"engine_version": cl.EngineVersion,
				"num_shards":     cl.NumberOfShards,
				"tls_enabled":    cl.TLSEnabled,
				"kms_key_arn":    cl.KmsKeyId,
				"tags":           tagMap(tags.TagList, func(t memorydbtypes.Tag) (*string, *string) { return t.Key, t.Value }),
			}))
		}
		if page.NextToken == nil {
			break
		}
		token = page.NextToken
	}
	return out, nil
}
