//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

// Package cos provides a Tencent Cloud Object Storage (COS) implementation of
// the artifact service.
//
// Object names follow the layout of the internal artifact path helpers:
//   - Shared names ("shared:" prefix): {app_name}/shared/{name}/{version}
//   - Run-scoped names:                {app_name}/{run_id}/{name}/{version}
//
// Authentication uses the COS_SECRETID and COS_SECRETKEY environment
// variables, or the WithSecretID/WithSecretKey options.
package cos

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	cos "github.com/tencentyun/cos-go-sdk-v5"

	"trpc.group/trpc-go/trpc-agent-core/artifact"
	iartifact "trpc.group/trpc-go/trpc-agent-core/internal/artifact"
)

const defaultTimeout = 60 * time.Second

// Service is a Tencent Cloud Object Storage implementation of the artifact
// service.
type Service struct {
	cosClient client
}

// NewService creates a new TCOS artifact service for the given bucket URL.
//
// Example:
//
//	service, err := cos.NewService("https://bucket.cos.region.myqcloud.com")
func NewService(bucketURL string, opts ...Option) (*Service, error) {
	c, err := globalBuilder(bucketURL, opts...)
	if err != nil {
		return nil, err
	}
	cli, ok := c.(client)
	if !ok {
		return nil, fmt.Errorf("client builder returned invalid type: expected client interface, got %T", c)
	}
	return &Service{cosClient: cli}, nil
}

// SaveArtifact saves an artifact to Tencent Cloud Object Storage.
func (s *Service) SaveArtifact(ctx context.Context, runInfo artifact.RunInfo, name string, art *artifact.Artifact) (int, error) {
	versions, err := s.ListVersions(ctx, runInfo, name)
	if err != nil {
		return 0, fmt.Errorf("failed to list versions: %w", err)
	}

	version := 0
	for _, v := range versions {
		if v >= version {
			version = v + 1
		}
	}

	objectName := iartifact.BuildObjectName(runInfo, name, version)
	if err := s.cosClient.PutObject(ctx, objectName, bytes.NewReader(art.Data), art.MimeType); err != nil {
		return 0, fmt.Errorf("failed to upload artifact: %w", err)
	}
	return version, nil
}

// LoadArtifact gets an artifact from Tencent Cloud Object Storage.
func (s *Service) LoadArtifact(ctx context.Context, runInfo artifact.RunInfo, name string, version *int) (*artifact.Artifact, error) {
	var targetVersion int
	if version == nil {
		versions, err := s.ListVersions(ctx, runInfo, name)
		if err != nil {
			return nil, fmt.Errorf("failed to list versions: %w", err)
		}
		if len(versions) == 0 {
			return nil, nil
		}
		for _, v := range versions {
			if v > targetVersion {
				targetVersion = v
			}
		}
	} else {
		targetVersion = *version
	}

	objectName := iartifact.BuildObjectName(runInfo, name, targetVersion)
	respBody, respHeader, err := s.cosClient.GetObject(ctx, objectName)
	if err != nil {
		if cos.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to download artifact: %w", err)
	}
	defer respBody.Close()

	data, err := io.ReadAll(respBody)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact data: %w", err)
	}

	contentType := respHeader.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return &artifact.Artifact{
		Data:     data,
		MimeType: contentType,
		Name:     name,
	}, nil
}

// ListArtifactKeys lists all artifact names visible to the run from TCOS.
func (s *Service) ListArtifactKeys(ctx context.Context, runInfo artifact.RunInfo) ([]string, error) {
	nameSet := make(map[string]bool)

	for _, prefix := range []string{
		iartifact.BuildRunPrefix(runInfo),
		iartifact.BuildSharedPrefix(runInfo),
	} {
		result, err := s.cosClient.GetBucket(ctx, prefix)
		if err != nil {
			if cos.IsNotFoundError(err) {
				continue
			}
			return nil, fmt.Errorf("failed to list artifacts under %s: %w", prefix, err)
		}
		for _, obj := range result.Contents {
			parts := strings.Split(obj.Key, "/")
			if len(parts) >= 4 {
				// Name is the segment before the version.
				nameSet[parts[len(parts)-2]] = true
			}
		}
	}

	names := make([]string, 0, len(nameSet))
	for name := range nameSet {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteArtifact deletes every revision of an artifact from TCOS.
func (s *Service) DeleteArtifact(ctx context.Context, runInfo artifact.RunInfo, name string) error {
	versions, err := s.ListVersions(ctx, runInfo, name)
	if err != nil {
		return fmt.Errorf("failed to list versions: %w", err)
	}

	for _, version := range versions {
		objectName := iartifact.BuildObjectName(runInfo, name, version)
		if err := s.cosClient.DeleteObject(ctx, objectName); err != nil && !cos.IsNotFoundError(err) {
			return fmt.Errorf("failed to delete artifact version %d: %w", version, err)
		}
	}
	return nil
}

// ListVersions lists all versions of an artifact from TCOS.
func (s *Service) ListVersions(ctx context.Context, runInfo artifact.RunInfo, name string) ([]int, error) {
	prefix := iartifact.BuildObjectNamePrefix(runInfo, name)
	result, err := s.cosClient.GetBucket(ctx, prefix)
	if err != nil {
		if cos.IsNotFoundError(err) {
			return []int{}, nil
		}
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}

	var versions []int
	for _, obj := range result.Contents {
		parts := strings.Split(obj.Key, "/")
		if len(parts) == 0 {
			continue
		}
		if version, err := strconv.Atoi(parts[len(parts)-1]); err == nil {
			versions = append(versions, version)
		}
	}
	return versions, nil
}
