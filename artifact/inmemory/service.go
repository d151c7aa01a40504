//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides an in-memory implementation of the artifact service.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"trpc.group/trpc-go/trpc-agent-core/artifact"
	iartifact "trpc.group/trpc-go/trpc-agent-core/internal/artifact"
)

// Service is an in-memory implementation of the artifact service.
// It is suitable for testing and development environments.
type Service struct {
	// mutex protects concurrent access to the artifacts map.
	mutex sync.RWMutex
	// artifacts stores artifact versions by path.
	artifacts map[string][]*artifact.Artifact
}

// NewService creates a new in-memory artifact service.
func NewService() *Service {
	return &Service{
		artifacts: make(map[string][]*artifact.Artifact),
	}
}

// SaveArtifact saves an artifact to the in-memory storage.
func (s *Service) SaveArtifact(ctx context.Context, runInfo artifact.RunInfo, name string, art *artifact.Artifact) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	path := iartifact.BuildArtifactPath(runInfo, name)
	version := len(s.artifacts[path])
	s.artifacts[path] = append(s.artifacts[path], art)

	return version, nil
}

// LoadArtifact gets an artifact from the in-memory storage.
func (s *Service) LoadArtifact(ctx context.Context, runInfo artifact.RunInfo, name string, version *int) (*artifact.Artifact, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	path := iartifact.BuildArtifactPath(runInfo, name)
	versions, exists := s.artifacts[path]
	if !exists || len(versions) == 0 {
		return nil, nil
	}

	versionIndex := len(versions) - 1
	if version != nil {
		versionIndex = *version
		if versionIndex < 0 || versionIndex >= len(versions) {
			return nil, fmt.Errorf("version %d does not exist", *version)
		}
	}

	return versions[versionIndex], nil
}

// ListArtifactKeys lists all the artifact names visible to the run.
func (s *Service) ListArtifactKeys(ctx context.Context, runInfo artifact.RunInfo) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	runPrefix := iartifact.BuildRunPrefix(runInfo)
	sharedPrefix := iartifact.BuildSharedPrefix(runInfo)

	var names []string
	for path := range s.artifacts {
		if strings.HasPrefix(path, runPrefix) {
			names = append(names, strings.TrimPrefix(path, runPrefix))
		} else if strings.HasPrefix(path, sharedPrefix) {
			names = append(names, strings.TrimPrefix(path, sharedPrefix))
		}
	}

	sort.Strings(names)
	return names, nil
}

// DeleteArtifact deletes an artifact. Deleting a missing artifact is a no-op.
func (s *Service) DeleteArtifact(ctx context.Context, runInfo artifact.RunInfo, name string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.artifacts, iartifact.BuildArtifactPath(runInfo, name))
	return nil
}

// ListVersions lists all versions of an artifact.
func (s *Service) ListVersions(ctx context.Context, runInfo artifact.RunInfo, name string) ([]int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	versions := s.artifacts[iartifact.BuildArtifactPath(runInfo, name)]
	result := make([]int, len(versions))
	for i := range versions {
		result[i] = i
	}
	return result, nil
}
