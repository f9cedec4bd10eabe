package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	elb "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	r53types "github.com/aws/aws-sdk-go-v2/service/route53/types"

	"github.com/yairfalse/driftwatch/pkg/resource"
)

func ec2Tags(tags []ec2types.Tag) map[string]any {
	return tagMap(tags, func(t ec2types.Tag) (*string, *string) { return t.Key, t.Value })
}

func scanVPCs(ctx context.Context, c *Clients, region string) ([]resource.RawResource, error) {
	var out []resource.RawResource
	paginator := ec2.NewDescribeVpcsPaginator(c.EC2, &ec2.DescribeVpcsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe vpcs: %w", err)
		}
		for _, vpc := range page.Vpcs {
			attrs := map[string]any{
				"id":               aws.ToString(vpc.VpcId),
				"cidr_block":       vpc.CidrBlock,
				"instance_tenancy": string(vpc.InstanceTenancy),
				"tags":             ec2Tags(vpc.Tags),
			}
			support, err := vpcAttribute(ctx, c.EC2, vpc.VpcId, ec2types.VpcAttributeNameEnableDnsSupport)
			if err != nil {
				return nil, err
			}
			hostnames, err := vpcAttribute(ctx, c.EC2, vpc.VpcId, ec2types.VpcAttributeNameEnableDnsHostnames)
			if err != nil {
				return nil, err
			}
			attrs["enable_dns_support"] = support
			attrs["enable_dns_hostnames"] = hostnames
			out = append(out, observed("aws_vpc", region, attrs))
		}
	}
	return out, nil
}

func vpcAttribute(ctx context.Context, client EC2API, vpcID *string, name ec2types.VpcAttributeName) (*bool, error) {
	res, err := client.DescribeVpcAttribute(ctx, &ec2.DescribeVpcAttributeInput{VpcId: vpcID, Attribute: name})
	if err != nil {
		return nil, fmt.Errorf("describe vpc attribute %s for %s: %w", name, aws.ToString(vpcID), err)
	}
	var v *ec2types.AttributeBooleanValue
	switch name {
	case ec2types.VpcAttributeNameEnableDnsSupport:
		v = res.EnableDnsSupport
	case ec2types.VpcAttributeNameEnableDnsHostnames:
		v = res.EnableDnsHostnames
	}
	if v == nil {
		return nil, nil
	}
	return v.Value, nil
}

func scanSubnets(ctx context.Context, c *Clients, region string) ([]resource.RawResource, error) {
	var out []resource.RawResource
	paginator := ec2.NewDescribeSubnetsPaginator(c.EC2, &ec2.DescribeSubnetsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe subnets: %w", err)
		}
		for _, s := range page.Subnets {
			out = append(out, observed("aws_subnet", region, map[string]any{
				"id":                      aws.ToString(s.SubnetId),
				"cidr_block":              s.CidrBlock,
				"vpc_id":                  s.VpcId,
				"availability_zone":       s.AvailabilityZone,
				"map_public_ip_on_launch": s.MapPublicIpOnLaunch,
				"tags":                    ec2Tags(s.Tags),
			}))
		}
	}
	return out, nil
}

func scanSecurityGroups(ctx context.Context, c *Clients, region string) ([]resource.RawResource, error) {
	var out []resource.RawResource
	paginator := ec2.NewDescribeSecurityGroupsPaginator(c.EC2, &ec2.DescribeSecurityGroupsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe security groups: %w", err)
		}
		for _, sg := range page.SecurityGroups {
			out = append(out, observed("aws_security_group", region, map[string]any{
				"id":          aws.ToString(sg.GroupId),
				"name":        sg.GroupName,
				"description": sg.Description,
				"vpc_id":      sg.VpcId,
				"ingress":     permissionRules(sg.IpPermissions),
				"egress":      permissionRules(sg.IpPermissionsEgress),
				"tags":        ec2Tags(sg.Tags),
			}))
		}
	}
	return out, nil
}

// permissionRules renders IP permissions the way Terraform stores inline rules.
// Protocol "-1" carries no ports in the API; Terraform records 0/0.
func permissionRules(perms []ec2types.IpPermission) []any {
	rules := make([]any, 0, len(perms))
	for _, p := range perms {
		cidrs := make([]any, 0, len(p.IpRanges))
		for _, r := range p.IpRanges {
			cidrs = append(cidrs, aws.ToString(r.CidrIp))
		}
		groups := make([]any, 0, len(p.UserIdGroupPairs))
		for _, g := range p.UserIdGroupPairs {
			groups = append(groups, aws.ToString(g.GroupId))
		}
		rules = append(rules, map[string]any{
			"protocol":        aws.ToString(p.IpProtocol),
			"from_port":       aws.ToInt32(p.FromPort),
			"to_port":         aws.ToInt32(p.ToPort),
			"cidr_blocks":     cidrs,
			"security_groups": groups,
		})
	}
	return rules
}

// describeTagsBatch is the ELBv2 DescribeTags limit.
const describeTagsBatch = 20

func scanLoadBalancers(ctx context.Context, c *Clients, region string) ([]resource.RawResource, error) {
	var lbs []elbtypes.LoadBalancer
	paginator := elb.NewDescribeLoadBalancersPaginator(c.ELB, &elb.DescribeLoadBalancersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe load balancers: %w", err)
		}
		lbs = append(lbs, page.LoadBalancers...)
	}

	tags := make(map[string]map[string]any, len(lbs))
	for start := 0; start < len(lbs); start += describeTagsBatch {
		end := min(start+describeTagsBatch, len(lbs))
		arns := make([]string, 0, end-start)
		for _, lb := range lbs[start:end] {
			arns = append(arns, aws.ToString(lb.LoadBalancerArn))
		}
		res, err := c.ELB.DescribeTags(ctx, &elb.DescribeTagsInput{ResourceArns: arns})
		if err != nil {
			return nil, fmt.Errorf("describe load balancer tags: %w", err)
		}
		for _, d := range res.TagDescriptions {
			tags[aws.ToString(d.ResourceArn)] = tagMap(d.Tags, func(t elbtypes.Tag) (*string, *string) { return t.Key, t.Value })
		}
	}

	out := make([]resource.RawResource, 0, len(lbs))
	for _, lb := range lbs {
		arn := aws.ToString(lb.LoadBalancerArn)
		subnets := make([]string, 0, len(lb.AvailabilityZones))
		for _, az := range lb.AvailabilityZones {
			subnets = append(subnets, aws.ToString(az.SubnetId))
		}
		out = append(out, observed("aws_lb", region, map[string]any{
			"id":                 arn,
			"arn":                arn,
			"name":               lb.LoadBalancerName,
			"internal":           lb.Scheme == elbtypes.LoadBalancerSchemeEnumInternal,
			"load_balancer_type": string(lb.Type),
			"security_groups":    lb.SecurityGroups,
			"subnets":            subnets,
			"ip_address_type":    string(lb.IpAddressType),
			"tags":               tags[arn],
		}))
	}
	return out, nil
}

func scanHostedZones(ctx context.Context, c *Clients, region string) ([]resource.RawResource, error) {
	var out []resource.RawResource
	paginator := route53.NewListHostedZonesPaginator(c.Route53, &route53.ListHostedZonesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list hosted zones: %w", err)
		}
		for _, zone := range page.HostedZones {
			// The API returns "/hostedzone/Z123"; Terraform stores "Z123".
			id := strings.TrimPrefix(aws.ToString(zone.Id), "/hostedzone/")
			tags, err := c.Route53.ListTagsForResource(ctx, &route53.ListTagsForResourceInput{
				ResourceType: r53types.TagResourceTypeHostedzone,
				ResourceId:   aws.String(id),
			})
			if err != nil {
				return nil, fmt.Errorf("list tags for zone %s: %w", id, err)
			}
			attrs := map[string]any{
				"id":      id,
				"zone_id": id,
				"name":    strings.TrimSuffix(aws.ToString(zone.Name), "."),
				"tags":    map[string]any{},
			}
			if zone.Config != nil {
				attrs["comment"] = zone.Config.Comment
			}
			if tags.ResourceTagSet != nil {
				attrs["tags"] = tagMap(tags.ResourceTagSet.Tags, func(t r53types.Tag) (*string, *string) { return t.Key, t.Value })
			}
			out = append(out, observed("aws_route53_zone", region, attrs))
		}
	}
	return out, nil
}
