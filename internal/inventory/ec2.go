package inventory

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/eniac111/plumbapi/internal/types"
)

const ec2Scheme = "ec2://"

// EC2Source describes a dynamic inventory of running EC2 instances.
//
//	ec2://eu-west-1?tag:Role=web&tag:Env=prod&user=ec2-user&port=22&address=public
type EC2Source struct {
	Region  string
	Tags    map[string]string
	User    string
	Port    int
	Public  bool // use the public IP instead of the private one
	KeyPath string
}

// ParseEC2Source parses an ec2:// inventory source string.
func ParseEC2Source(source string) (*EC2Source, error) {
	u, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("invalid ec2 inventory source: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid ec2 inventory source %q: missing region", source)
	}

	src := &EC2Source{Region: u.Host, Tags: map[string]string{}}
	for key, values := range u.Query() {
		if len(values) == 0 {
			continue
		}
		v := values[0]
		switch {
		case strings.HasPrefix(key, "tag:"):
			src.Tags[strings.TrimPrefix(key, "tag:")] = v
		case key == "user":
			src.User = v
		case key == "key_path":
			src.KeyPath = v
		case key == "port":
			port, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid ec2 inventory port %q: %w", v, err)
			}
			src.Port = port
		case key == "address":
			if v != "public" && v != "private" {
				return nil, fmt.Errorf("invalid ec2 inventory address %q: must be public or private", v)
			}
			src.Public = v == "public"
		default:
			return nil, fmt.Errorf("unknown ec2 inventory option %q", key)
		}
	}
	return src, nil
}

// Load queries EC2 using the default AWS credential chain.
func (s *EC2Source) Load(ctx context.Context) (*types.Inventory, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(s.Region))
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return s.LoadFrom(ctx, ec2.NewFromConfig(cfg))
}

// LoadFrom queries running instances through client and maps them to hosts.
// Instances are grouped as "ec2" and "tag_<key>_<value>". A host is named
// by its Name tag, or by its instance ID when the tag is missing or already
// taken by another instance.
func (s *EC2Source) LoadFrom(ctx context.Context, client ec2.DescribeInstancesAPIClient) (*types.Inventory, error) {
	filters := []ec2types.Filter{
		{Name: aws.String("instance-state-name"), Values: []string{"running"}},
	}
	keys := make([]string, 0, len(s.Tags))
	for k := range s.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		filters = append(filters, ec2types.Filter{
			Name:   aws.String("tag:" + k),
			Values: []string{s.Tags[k]},
		})
	}

	inv := &types.Inventory{Groups: map[string][]string{}}
	seen := map[string]bool{}
	seenIDs := map[string]bool{}

	paginator := ec2.NewDescribeInstancesPaginator(client, &ec2.DescribeInstancesInput{Filters: filters})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe ec2 instances: %w", err)
		}
		for _, res := range page.Reservations {
			for _, inst := range res.Instances {
				host, ok := s.hostFromInstance(inst)
				id := aws.ToString(inst.InstanceId)
				if !ok || seenIDs[id] {
					continue
				}
				if seen[host.Name] {
					// Name tags are not unique, instance IDs are.
					host.Name = id
				}
				seenIDs[id] = true
				seen[host.Name] = true
				inv.Hosts = append(inv.Hosts, host)
				inv.Groups["ec2"] = append(inv.Groups["ec2"], host.Name)
				for _, tag := range inst.Tags {
					group := tagGroup(aws.ToString(tag.Key), aws.ToString(tag.Value))
					inv.Groups[group] = append(inv.Groups[group], host.Name)
				}
			}
		}
	}
	return inv, nil
}

func (s *EC2Source) hostFromInstance(inst ec2types.Instance) (types.Host, bool) {
	addr := aws.ToString(inst.PrivateIpAddress)
	if s.Public {
		addr = aws.ToString(inst.PublicIpAddress)
	}
	if addr == "" {
		return types.Host{}, false
	}

	id := aws.ToString(inst.InstanceId)
	name := id
	tags := map[string]any{}
	for _, tag := range inst.Tags {
		k, v := aws.ToString(tag.Key), aws.ToString(tag.Value)
		tags[k] = v
		if k == "Name" && v != "" {
			name = v
		}
	}

	return types.Host{
		Name:       name,
		Address:    addr,
		User:       s.User,
		Port:       s.Port,
		KeyPath:    s.KeyPath,
		Connection: "ssh",
		Vars: map[string]any{
			"ec2_instance_id":   id,
			"ec2_instance_type": string(inst.InstanceType),
			"ec2_tags":          tags,
		},
	}, true
}

func tagGroup(key, value string) string {
	clean := func(s string) string {
		return strings.Map(func(r rune) rune {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
				return r
			}
			return '_'
		}, s)
	}
	return "tag_" + clean(key) + "_" + clean(value)
}
