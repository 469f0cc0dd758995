/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package version

import (
	"strconv"
	"time"
)

const (
	DevelopmentVersion = "dev"
)

// Set at build time via -ldflags "-X".
var (
	ProductVersion = DevelopmentVersion
	CommitHash     = ""
	BuildTimestamp = ""
)

type VersionOutput struct {
	Version    string `json:"version"`
	CommitHash string `json:"commitHash,omitempty"`

	// Nil when the build timestamp is unknown.
	BuildTime *time.Time `json:"buildTimestamp,omitempty"`

	// The Debug Adapter Protocol is versioned by the go-dap module the client is built with.
	Protocol string `json:"protocol"`
}

const protocolModule = "github.com/google/go-dap"

func Version() VersionOutput {
	productVersion := ProductVersion
	if productVersion == "" {
		productVersion = DevelopmentVersion
	}

	return VersionOutput{
		Version:    productVersion,
		CommitHash: CommitHash,
		BuildTime:  parseBuildTimestamp(BuildTimestamp),
		Protocol:   protocolModule,
	}
}

// The build timestamp is either Unix seconds or an RFC 3339 string.
func parseBuildTimestamp(value string) *time.Time {
	if value == "" {
		return nil
	}

	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		buildTime := time.Unix(seconds, 0).UTC()
		return &buildTime
	}

	if buildTime, err := time.Parse(time.RFC3339, value); err == nil {
		return &buildTime
	}

	return nil
}
