//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

package artifact

import "context"

// Service defines the interface for artifact storage and retrieval.
//
// Artifacts are identified by run info and name. Names carrying the "shared:"
// prefix are stored in an app-wide namespace visible to every run of the
// application; all other names are scoped to the run.
type Service interface {
	// SaveArtifact saves an artifact and returns its revision ID.
	// The first version of an artifact has revision ID 0; each successful
	// save increments it by 1.
	SaveArtifact(ctx context.Context, runInfo RunInfo, name string, artifact *Artifact) (int, error)

	// LoadArtifact returns the artifact with the given name, or nil when it
	// does not exist. A nil version loads the latest revision.
	LoadArtifact(ctx context.Context, runInfo RunInfo, name string, version *int) (*Artifact, error)

	// ListArtifactKeys lists all artifact names visible to the run,
	// including shared ones.
	ListArtifactKeys(ctx context.Context, runInfo RunInfo) ([]string, error)

	// DeleteArtifact deletes every revision of the named artifact.
	// Deleting a missing artifact is not an error.
	DeleteArtifact(ctx context.Context, runInfo RunInfo, name string) error

	// ListVersions lists all revisions of the named artifact.
	ListVersions(ctx context.Context, runInfo RunInfo, name string) ([]int, error)
}
