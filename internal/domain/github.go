// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package domain

import "time"

// PullRequest is the minimal GitHub PR shape the github-pr trigger kind
// polls for, pinned by original_source's src/github/models.rs.
type PullRequest struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	HeadSHA   string    `json:"head_sha"`
	HTMLURL   string    `json:"html_url"`
	UpdatedAt time.Time `json:"updated_at"`
}
