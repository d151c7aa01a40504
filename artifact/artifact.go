//
// Tencent is pleased to support the open source community by making trpc-agent-core available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-core is licensed under the Apache License Version 2.0.
//
//

// Package artifact provides the definition and storage service for tool
// side-channel payloads.
package artifact

// Artifact is a structured payload produced alongside a tool result, such as
// an image, a generated file, or raw binary data. Artifacts travel with the
// conversation log but are never serialized into provider requests.
type Artifact struct {
	// Data contains the raw bytes (required).
	Data []byte `json:"data,omitempty"`
	// MimeType is the IANA standard MIME type of the source data (required).
	MimeType string `json:"mime_type,omitempty"`
	// URL is the optional URL where the artifact can be accessed.
	URL string `json:"url,omitempty"`
	// Name is an optional display name used to distinguish artifacts.
	Name string `json:"name,omitempty"`
}

// RunInfo identifies the orchestration run an artifact belongs to.
type RunInfo struct {
	// AppName is the name of the application.
	AppName string
	// RunID is the ID of the orchestration run.
	RunID string
}
