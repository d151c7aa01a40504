//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

// Package artifact provides internal utilities shared by artifact service
// implementations.
package artifact

import (
	"fmt"
	"strings"

	"trpc.group/trpc-go/trpc-agent-core/artifact"
)

// SharedPrefix marks artifact names stored in the app-wide namespace.
const SharedPrefix = "shared:"

// NameIsShared checks if the artifact name targets the app-wide namespace.
func NameIsShared(name string) bool {
	return strings.HasPrefix(name, SharedPrefix)
}

// BuildArtifactPath constructs the storage path for an artifact.
// Shared names map to {app_name}/shared/{name}; run-scoped names map to
// {app_name}/{run_id}/{name}.
func BuildArtifactPath(runInfo artifact.RunInfo, name string) string {
	if NameIsShared(name) {
		return fmt.Sprintf("%s/shared/%s", runInfo.AppName, name)
	}
	return fmt.Sprintf("%s/%s/%s", runInfo.AppName, runInfo.RunID, name)
}

// BuildObjectName constructs the object name for versioned storage (like COS):
// the artifact path with the version appended as the last segment.
func BuildObjectName(runInfo artifact.RunInfo, name string, version int) string {
	return fmt.Sprintf("%s/%d", BuildArtifactPath(runInfo, name), version)
}

// BuildObjectNamePrefix constructs the object name prefix for listing all
// versions of one artifact.
func BuildObjectNamePrefix(runInfo artifact.RunInfo, name string) string {
	return BuildArtifactPath(runInfo, name) + "/"
}

// BuildRunPrefix constructs the prefix for run-scoped artifacts.
func BuildRunPrefix(runInfo artifact.RunInfo) string {
	return fmt.Sprintf("%s/%s/", runInfo.AppName, runInfo.RunID)
}

// BuildSharedPrefix constructs the prefix for app-wide shared artifacts.
func BuildSharedPrefix(runInfo artifact.RunInfo) string {
	return fmt.Sprintf("%s/shared/", runInfo.AppName)
}
