//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

package cos

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cos "github.com/tencentyun/cos-go-sdk-v5"

	"trpc.group/trpc-go/trpc-agent-core/artifact"
)

// fakeClient implements the client interface backed by a map.
type fakeClient struct {
	objects map[string][]byte
	types   map[string]string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (f *fakeClient) GetBucket(_ context.Context, prefix string) (*cos.BucketGetResult, error) {
	result := &cos.BucketGetResult{}
	var keys []string
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		result.Contents = append(result.Contents, cos.Object{Key: key})
	}
	return result, nil
}

func (f *fakeClient) PutObject(_ context.Context, name string, content io.Reader, mimeType string) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	f.objects[name] = data
	f.types[name] = mimeType
	return nil
}

func (f *fakeClient) GetObject(_ context.Context, name string) (io.ReadCloser, http.Header, error) {
	data, ok := f.objects[name]
	if !ok {
		return nil, nil, &cos.ErrorResponse{Response: &http.Response{StatusCode: http.StatusNotFound}}
	}
	header := make(http.Header)
	header.Set("Content-Type", f.types[name])
	return io.NopCloser(bytes.NewReader(data)), header, nil
}

func (f *fakeClient) DeleteObject(_ context.Context, name string) error {
	delete(f.objects, name)
	delete(f.types, name)
	return nil
}

func newFakeService(t *testing.T) (*Service, *fakeClient) {
	t.Helper()
	fake := newFakeClient()
	return &Service{cosClient: fake}, fake
}

func TestServiceSaveIncrementsVersion(t *testing.T) {
	svc, fake := newFakeService(t)
	ctx := context.Background()
	info := artifact.RunInfo{AppName: "app", RunID: "run-1"}

	v0, err := svc.SaveArtifact(ctx, info, "out.json", &artifact.Artifact{
		Data:     []byte(`{"a":1}`),
		MimeType: "application/json",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, v0)

	v1, err := svc.SaveArtifact(ctx, info, "out.json", &artifact.Artifact{
		Data:     []byte(`{"a":2}`),
		MimeType: "application/json",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, v1)

	assert.Contains(t, fake.objects, "app/run-1/out.json/0")
	assert.Contains(t, fake.objects, "app/run-1/out.json/1")
}

func TestServiceLoadLatestAndVersioned(t *testing.T) {
	svc, _ := newFakeService(t)
	ctx := context.Background()
	info := artifact.RunInfo{AppName: "app", RunID: "run-1"}

	_, err := svc.SaveArtifact(ctx, info, "out.bin", &artifact.Artifact{Data: []byte("v0"), MimeType: "application/octet-stream"})
	require.NoError(t, err)
	_, err = svc.SaveArtifact(ctx, info, "out.bin", &artifact.Artifact{Data: []byte("v1"), MimeType: "application/octet-stream"})
	require.NoError(t, err)

	art, err := svc.LoadArtifact(ctx, info, "out.bin", nil)
	require.NoError(t, err)
	require.NotNil(t, art)
	assert.Equal(t, []byte("v1"), art.Data)
	assert.Equal(t, "application/octet-stream", art.MimeType)

	version := 0
	art, err = svc.LoadArtifact(ctx, info, "out.bin", &version)
	require.NoError(t, err)
	require.NotNil(t, art)
	assert.Equal(t, []byte("v0"), art.Data)

	missing, err := svc.LoadArtifact(ctx, info, "never-saved", nil)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestServiceListKeysAndDelete(t *testing.T) {
	svc, _ := newFakeService(t)
	ctx := context.Background()
	info := artifact.RunInfo{AppName: "app", RunID: "run-1"}

	_, err := svc.SaveArtifact(ctx, info, "a.txt", &artifact.Artifact{Data: []byte("a"), MimeType: "text/plain"})
	require.NoError(t, err)
	_, err = svc.SaveArtifact(ctx, info, "shared:c.txt", &artifact.Artifact{Data: []byte("c"), MimeType: "text/plain"})
	require.NoError(t, err)

	keys, err := svc.ListArtifactKeys(ctx, info)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "shared:c.txt"}, keys)

	require.NoError(t, svc.DeleteArtifact(ctx, info, "a.txt"))

	versions, err := svc.ListVersions(ctx, info, "a.txt")
	require.NoError(t, err)
	assert.Empty(t, versions)
}
