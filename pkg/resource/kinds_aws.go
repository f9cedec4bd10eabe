package resource

import (
	"encoding/json"
	"net/url"
	"strings"
)

// tagPaths matches individual tag keys once the tags map is flattened.
const tagPaths = "tags.*"

// AWSKinds returns the built-in kinds for the Terraform AWS provider.
// Compared paths use Terraform attribute names; observed scanners emit the same names.
func AWSKinds() []Kind {
	specs := []Spec{
		{
			Type:      "aws_instance",
			Compare:   []string{"instance_type", "ami", "subnet_id", "vpc_security_group_ids", "key_name", "iam_instance_profile", "monitoring", "ebs_optimized", "source_dest_check", tagPaths},
			Unordered: []string{"vpc_security_group_ids"},
		},
		{
			Type:      "aws_security_group",
			Compare:   []string{"name", "description", "vpc_id", "ingress", "egress", tagPaths},
			Unordered: []string{"ingress", "egress"},
			Canonical: map[string]func(any) any{
				"ingress": SecurityGroupRules,
				"egress":  SecurityGroupRules,
			},
		},
		{
			Type:    "aws_s3_bucket",
			Compare: []string{"bucket", tagPaths},
		},
		{
			Type:            "aws_db_instance",
			ID:              "identifier",
			Compare:         []string{"instance_class", "engine", "engine_version", "allocated_storage", "multi_az", "publicly_accessible", "storage_encrypted", "kms_key_id", "backup_retention_period", "vpc_security_group_ids", tagPaths},
			Unordered:       []string{"vpc_security_group_ids"},
			CaseInsensitive: []string{"engine"},
		},
		{
			Type:    "aws_lambda_function",
			ID:      "function_name",
			Compare: []string{"runtime", "handler", "memory_size", "timeout", "role", "kms_key_arn", tagPaths},
		},
		{
			Type:    "aws_iam_role",
			ID:      "name",
			Compare: []string{"assume_role_policy", "path", "max_session_duration", "description", tagPaths},
			Canonical: map[string]func(any) any{
				"assume_role_policy": PolicyDocument,
			},
		},
		{
			Type:            "aws_vpc",
			Compare:         []string{"cidr_block", "enable_dns_support", "enable_dns_hostnames", "instance_tenancy", tagPaths},
			CaseInsensitive: []string{"instance_tenancy"},
		},
		{
			Type:    "aws_subnet",
			Compare: []string{"cidr_block", "vpc_id", "availability_zone", "map_public_ip_on_launch", tagPaths},
		},
		{
			Type:            "aws_lb",
			ID:              "arn",
			Compare:         []string{"name", "internal", "load_balancer_type", "security_groups", "subnets", "ip_address_type", tagPaths},
			Unordered:       []string{"security_groups", "subnets"},
			CaseInsensitive: []string{"load_balancer_type", "ip_address_type"},
		},
		{
			Type:    "aws_kms_key",
			ID:      "key_id",
			Compare: []string{"description", "key_usage", "customer_master_key_spec", "is_enabled", "policy", tagPaths},
			Canonical: map[string]func(any) any{
				"policy": PolicyDocument,
			},
		},
		{
			Type:            "aws_dynamodb_table",
			ID:              "name",
			Compare:         []string{"billing_mode", "hash_key", "range_key", "read_capacity", "write_capacity", "stream_enabled", tagPaths},
			CaseInsensitive: []string{"billing_mode"},
		},
		{
			Type:    "aws_sqs_queue",
			Compare: []string{"name", "fifo_queue", "visibility_timeout_seconds", "message_retention_seconds", "delay_seconds", "max_message_size", "kms_master_key_id", tagPaths},
		},
		{
			Type:    "aws_eks_cluster",
			ID:      "name",
			Compare: []string{"version", "role_arn", tagPaths},
		},
		{
			Type:    "aws_ecs_cluster",
			ID:      "name",
			Compare: []string{tagPaths},
		},
		{
			Type:            "aws_ecr_repository",
			ID:              "name",
			Compare:         []string{"image_tag_mutability", tagPaths},
			CaseInsensitive: []string{"image_tag_mutability"},
		},
		{
			Type:    "aws_route53_zone",
			ID:      "zone_id",
			Compare: []string{"name", "comment", tagPaths},
		},
		{
			Type:    "aws_cloudwatch_log_group",
			ID:      "name",
			Compare: []string{"retention_in_days", "kms_key_id", tagPaths},
		},
		{
			Type:    "aws_cloudtrail",
			ID:      "name",
			Compare: []string{"s3_bucket_name", "is_multi_region_trail", "include_global_service_events", "enable_log_file_validation", "kms_key_id", tagPaths},
		},
		{
			Type:      "aws_autoscaling_group",
			ID:        "name",
			Compare:   []string{"min_size", "max_size", "desired_capacity", "health_check_type", "vpc_zone_identifier"},
			Unordered: []string{"vpc_zone_identifier"},
		},
		{
			Type:    "aws_redshift_cluster",
			ID:      "cluster_identifier",
			Compare: []string{"node_type", "number_of_nodes", "encrypted", "publicly_accessible", "kms_key_id", "cluster_version", tagPaths},
		},
		{
			Type:    "aws_memorydb_cluster",
			ID:      "name",
			Compare: []string{"node_type", "engine_version", "num_shards", "tls_enabled", "kms_key_arn", tagPaths},
		},
	}

	kinds := make([]Kind, 0, len(specs))
	for _, s := range specs {
		kinds = append(kinds, NewKind(s))
	}
	return kinds
}

// DefaultRegistry returns a registry holding the built-in AWS kinds.
func DefaultRegistry() *Registry {
	return NewRegistry(AWSKinds()...)
}

// SecurityGroupRules reduces each rule to protocol, port range and sorted
// sources so Terraform and API representations compare equal.
func SecurityGroupRules(v any) any {
	rules, ok := v.([]any)
	if !ok {
		return v
	}
	out := make([]any, 0, len(rules))
	for _, r := range rules {
		rule, ok := r.(map[string]any)
		if !ok {
			out = append(out, r)
			continue
		}
		norm := map[string]any{
			"protocol":    strings.ToLower(asString(rule["protocol"])),
			"from_port":   rule["from_port"],
			"to_port":     rule["to_port"],
			"cidr_blocks": sortedStrings(rule["cidr_blocks"]),
		}
		if groups := sortedStrings(rule["security_groups"]); len(groups) > 0 {
			norm["security_groups"] = groups
		}
		out = append(out, norm)
	}
	return out
}

// PolicyDocument re-encodes a JSON policy with sorted keys. IAM returns
// URL-encoded documents, which are decoded first.
func PolicyDocument(v any) any {
	s, ok := v.(string)
	if !ok || s == "" {
		return v
	}
	if strings.HasPrefix(s, "%7B") || strings.HasPrefix(s, "%7b") {
		if decoded, err := url.QueryUnescape(s); err == nil {
			s = decoded
		}
	}
	var doc any
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return v
	}
	return canonical(doc)
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return canonical(v)
}

func sortedStrings(v any) []any {
	list, ok := v.([]any)
	if !ok {
		return []any{}
	}
	return sortList(list)
}
