// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package watcher

import "os"

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
