package inventory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/eniac111/plumbapi/internal/logger"
	"github.com/eniac111/plumbapi/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleInventory = `hosts:
  - name: web1
    address: 10.0.0.1
    user: deploy
  - name: web2
    port: 2222
  - name: db1
    connection: local
    vars:
      role: primary
groups:
  web: [web1, web2]
  db: [db1]
vars:
  env: prod
group_vars:
  web:
    http_port: 80
`

func names(hosts []types.Host) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, h.Name)
	}
	return out
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts")
	require.NoError(t, os.WriteFile(path, []byte(sampleInventory), 0o644))

	inv, err := Load(context.Background(), path, logger.Discard())
	require.NoError(t, err)

	assert.Equal(t, []string{"web1", "web2", "db1"}, names(inv.Hosts))
	assert.Equal(t, "10.0.0.1", inv.Hosts[0].Addr())
	assert.Equal(t, "web2", inv.Hosts[1].Addr())
	assert.Equal(t, 2222, inv.Hosts[1].Port)
	assert.Equal(t, "primary", inv.Hosts[2].Vars["role"])
	assert.Equal(t, "prod", inv.Vars["env"])
	assert.Equal(t, 80, inv.GroupVars["web"]["http_port"])
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	inv, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope"), logger.Discard())
	require.NoError(t, err)
	assert.Empty(t, inv.Hosts)
}

func TestLoadHostList(t *testing.T) {
	inv, err := Load(context.Background(), " a, b,,a,", logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names(inv.Hosts))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{name: "malformed", doc: "hosts: [", wantErr: "failed to parse inventory"},
		{name: "nameless host", doc: "hosts:\n  - user: x\n", wantErr: "has no name"},
		{name: "duplicate host", doc: "hosts:\n  - name: a\n  - name: a\n", wantErr: "listed twice"},
		{name: "unknown member", doc: "hosts:\n  - name: a\ngroups:\n  g: [b]\n", wantErr: "unknown host"},
		{name: "group shadows host", doc: "hosts:\n  - name: a\ngroups:\n  a: [a]\n", wantErr: "same name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSelect(t *testing.T) {
	inv, err := Parse([]byte(sampleInventory))
	require.NoError(t, err)

	tests := []struct {
		pattern string
		want    []string
	}{
		{pattern: "", want: []string{"web1", "web2", "db1"}},
		{pattern: "all", want: []string{"web1", "web2", "db1"}},
		{pattern: "*", want: []string{"web1", "web2", "db1"}},
		{pattern: "web", want: []string{"web1", "web2"}},
		{pattern: "db1,web2", want: []string{"web2", "db1"}},
		{pattern: "web:db", want: []string{"web1", "web2", "db1"}},
		{pattern: "all:!web1", want: []string{"web2", "db1"}},
		{pattern: "web,!web", want: []string{}},
		{pattern: "nothing", want: []string{}},
		{pattern: "localhost", want: []string{"localhost"}},
		{pattern: "db,localhost", want: []string{"db1", "localhost"}},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, names(Select(inv, tt.pattern)))
		})
	}

	local := Select(inv, "localhost")
	require.Len(t, local, 1)
	assert.Equal(t, "local", local[0].Connection)
}

func TestSelectExplicitLocalhost(t *testing.T) {
	inv := parseHostList("localhost,")
	hosts := Select(inv, "localhost")
	require.Len(t, hosts, 1)
	assert.Empty(t, hosts[0].Connection, "inventory host keeps the run default")
}

func TestParseEC2Source(t *testing.T) {
	src, err := ParseEC2Source("ec2://eu-west-1?tag:Role=web&user=ec2-user&port=2200&address=public&key_path=/k")
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", src.Region)
	assert.Equal(t, map[string]string{"Role": "web"}, src.Tags)
	assert.Equal(t, "ec2-user", src.User)
	assert.Equal(t, 2200, src.Port)
	assert.True(t, src.Public)
	assert.Equal(t, "/k", src.KeyPath)

	for _, bad := range []string{"ec2://", "ec2://r?port=x", "ec2://r?address=v6", "ec2://r?color=blue"} {
		_, err := ParseEC2Source(bad)
		assert.Error(t, err, bad)
	}
}

type fakeEC2 struct {
	pages []*ec2.DescribeInstancesOutput
	calls []*ec2.DescribeInstancesInput
	err   error
}

func (f *fakeEC2) DescribeInstances(_ context.Context, in *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	f.calls = append(f.calls, in)
	if f.err != nil {
		return nil, f.err
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func instance(id, ip, name string) ec2types.Instance {
	inst := ec2types.Instance{
		InstanceId:       aws.String(id),
		PrivateIpAddress: aws.String(ip),
		InstanceType:     ec2types.InstanceTypeT3Micro,
		Tags:             []ec2types.Tag{{Key: aws.String("Role"), Value: aws.String("web")}},
	}
	if name != "" {
		inst.Tags = append(inst.Tags, ec2types.Tag{Key: aws.String("Name"), Value: aws.String(name)})
	}
	return inst
}

func TestEC2LoadFrom(t *testing.T) {
	client := &fakeEC2{pages: []*ec2.DescribeInstancesOutput{
		{
			Reservations: []ec2types.Reservation{{Instances: []ec2types.Instance{
				instance("i-1", "10.0.0.1", "front-1"),
				instance("i-2", "", "no-ip"),
			}}},
			NextToken: aws.String("more"),
		},
		{
			Reservations: []ec2types.Reservation{{Instances: []ec2types.Instance{
				instance("i-3", "10.0.0.3", ""),
			}}},
		},
	}}

	src := &EC2Source{Region: "eu-west-1", Tags: map[string]string{"Role": "web"}, User: "ec2-user"}
	inv, err := src.LoadFrom(context.Background(), client)
	require.NoError(t, err)

	assert.Equal(t, []string{"front-1", "i-3"}, names(inv.Hosts))
	assert.Equal(t, "10.0.0.1", inv.Hosts[0].Addr())
	assert.Equal(t, "ssh", inv.Hosts[0].Connection)
	assert.Equal(t, "ec2-user", inv.Hosts[0].User)
	assert.Equal(t, "i-1", inv.Hosts[0].Vars["ec2_instance_id"])
	assert.Equal(t, "t3.micro", inv.Hosts[0].Vars["ec2_instance_type"])
	assert.Equal(t, []string{"front-1", "i-3"}, inv.Groups["ec2"])
	assert.Equal(t, []string{"front-1", "i-3"}, inv.Groups["tag_Role_web"])
	assert.Equal(t, []string{"front-1"}, inv.Groups["tag_Name_front_1"])

	require.Len(t, client.calls, 2)
	filters := client.calls[0].Filters
	require.Len(t, filters, 2)
	assert.Equal(t, "instance-state-name", aws.ToString(filters[0].Name))
	assert.Equal(t, "tag:Role", aws.ToString(filters[1].Name))
	assert.Equal(t, []string{"web"}, filters[1].Values)
}

func TestEC2LoadFromDuplicateNames(t *testing.T) {
	client := &fakeEC2{pages: []*ec2.DescribeInstancesOutput{
		{
			Reservations: []ec2types.Reservation{{Instances: []ec2types.Instance{
				instance("i-1", "10.0.0.1", "web"),
				instance("i-2", "10.0.0.2", "web"),
				instance("i-1", "10.0.0.1", "web"),
			}}},
		},
	}}

	src := &EC2Source{Region: "eu-west-1"}
	inv, err := src.LoadFrom(context.Background(), client)
	require.NoError(t, err)

	assert.Equal(t, []string{"web", "i-2"}, names(inv.Hosts))
	assert.Equal(t, "10.0.0.2", inv.Hosts[1].Addr())
	assert.Equal(t, "i-2", inv.Hosts[1].Vars["ec2_instance_id"])
	assert.Equal(t, []string{"web", "i-2"}, inv.Groups["ec2"])
	assert.Equal(t, []string{"web", "i-2"}, inv.Groups["tag_Name_web"])
}

func TestEC2LoadFromError(t *testing.T) {
	boom := errors.New("throttled")
	src := &EC2Source{Region: "eu-west-1"}
	_, err := src.LoadFrom(context.Background(), &fakeEC2{err: boom})
	require.ErrorIs(t, err, boom)
}
