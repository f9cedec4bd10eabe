package terraform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/driftwatch/pkg/resource"
	"github.com/yairfalse/driftwatch/providers"
)

func TestParseState_ManagedOnly(t *testing.T) {
	p := NewProvider(LocalSource{Path: filepath.Join("testdata", "terraform.tfstate")}, "eu-west-1")

	state, err := p.FetchDeclared(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, state.Version)
	assert.Equal(t, int64(42), state.Serial)
	assert.Equal(t, "3f2c9a8e-8d2b-4e0a-9a5e-7d1f0c6b2a11", state.Lineage)
	require.Len(t, state.Resources, 3)

	byType := map[string]resource.RawResource{}
	for _, r := range state.Resources {
		assert.Equal(t, resource.SourceDeclared, r.Source)
		byType[r.Type] = r
	}
	assert.NotContains(t, byType, "aws_ami")

	inst := byType["aws_instance"]
	assert.Equal(t, "aws_instance.web[0]", inst.Address)
	assert.Equal(t, "us-east-1", inst.Region)
	assert.Equal(t, "web", inst.Name)
	assert.Equal(t, "t3.medium", inst.Attributes["instance_type"])

	sg := byType["aws_security_group"]
	assert.Equal(t, `module.network.aws_security_group.web["public"]`, sg.Address)
	assert.Equal(t, "eu-west-1", sg.Region)

	role := byType["aws_iam_role"]
	assert.Equal(t, "eu-west-1", role.Region, "IAM ARNs carry no region")
	assert.Equal(t, json.Number("3600"), role.Attributes["max_session_duration"])
}

func TestParseState_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{"empty", "  ", "empty state document"},
		{"invalid json", "{not json", "invalid JSON"},
		{"old version", `{"version": 3}`, "unsupported state version 3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseState([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestInstanceRegion(t *testing.T) {
	tests := []struct {
		name  string
		attrs map[string]any
		want  string
	}{
		{"explicit", map[string]any{"region": "ap-south-1", "availability_zone": "us-east-1a"}, "ap-south-1"},
		{"arn", map[string]any{"arn": "arn:aws:sqs:eu-central-1:111122223333:jobs"}, "eu-central-1"},
		{"az", map[string]any{"availability_zone": "us-west-2b"}, "us-west-2"},
		{"global arn", map[string]any{"arn": "arn:aws:iam::111122223333:role/x"}, "fallback"},
		{"nothing", map[string]any{}, "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, instanceRegion(tt.attrs, "fallback"))
		})
	}
}

func TestFetchDeclared_LocalMissing(t *testing.T) {
	p := NewProvider(LocalSource{Path: filepath.Join(t.TempDir(), "missing.tfstate")}, "us-east-1")

	_, err := p.FetchDeclared(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, providers.ErrStateUnavailable)
	assert.Contains(t, err.Error(), "does not exist")
}

type fakeS3 struct {
	body []byte
	err  error
	in   *s3.GetObjectInput
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(f.body))}, nil
}

func TestS3Source_Read(t *testing.T) {
	fake := &fakeS3{body: []byte(`{"version": 4, "serial": 3, "resources": []}`)}
	src := &S3Source{Client: fake, Bucket: "tf-state", Key: "prod/terraform.tfstate"}

	state, err := NewProvider(src, "us-east-1").FetchDeclared(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), state.Serial)
	assert.Empty(t, state.Resources)
	assert.Equal(t, "tf-state", aws.ToString(fake.in.Bucket))
	assert.Equal(t, "prod/terraform.tfstate", aws.ToString(fake.in.Key))
	assert.Equal(t, "s3://tf-state/prod/terraform.tfstate", src.String())
}

func TestS3Source_Errors(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"NoSuchBucket", `bucket "tf-state" does not exist`},
		{"NoSuchKey", `state file "prod.tfstate" not found in bucket "tf-state"`},
		{"AccessDenied", "access denied to s3://tf-state/prod.tfstate"},
		{"SlowDown", "s3 error (SlowDown)"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			fake := &fakeS3{err: &smithy.GenericAPIError{Code: tt.code, Message: "x"}}
			p := NewProvider(&S3Source{Client: fake, Bucket: "tf-state", Key: "prod.tfstate"}, "us-east-1")

			_, err := p.FetchDeclared(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, providers.ErrStateUnavailable)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("transport", func(t *testing.T) {
		cause := errors.New("dial tcp: timeout")
		p := NewProvider(&S3Source{Client: &fakeS3{err: cause}, Bucket: "b", Key: "k"}, "us-east-1")
		_, err := p.FetchDeclared(context.Background())
		assert.ErrorIs(t, err, cause)
	})

	t.Run("invalid json", func(t *testing.T) {
		p := NewProvider(&S3Source{Client: &fakeS3{body: []byte("<html>")}, Bucket: "b", Key: "k"}, "us-east-1")
		_, err := p.FetchDeclared(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, providers.ErrStateUnavailable)
		assert.Contains(t, err.Error(), "parse state")
	})
}
