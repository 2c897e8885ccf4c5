// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package hostjail

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFsJail_CreateAndPutGetFile(t *testing.T) {
	jail, err := Create(filepath.Join(t.TempDir(), "workspace"))
	require.NoError(t, err)

	require.NoError(t, jail.PutFile("/hello.txt", []byte("hello world"), false, 0))

	data, truncated, err := jail.GetFile("/hello.txt", 0)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.False(t, truncated)
}

func TestFsJail_GetFileTruncation(t *testing.T) {
	jail, err := Create(filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, err)

	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = 'x'
	}
	require.NoError(t, jail.PutFile("/big.txt", payload, false, 0))

	data, truncated, err := jail.GetFile("/big.txt", 100)
	require.NoError(t, err)
	assert.Len(t, data, 100)
	assert.True(t, truncated)
}

func TestFsJail_PutFileCreateParents(t *testing.T) {
	jail, err := Create(filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, err)

	require.NoError(t, jail.PutFile("/deep/nested/dir/file.txt", []byte("nested"), true, 0))

	data, _, err := jail.GetFile("/deep/nested/dir/file.txt", 0)
	require.NoError(t, err)
	assert.Equal(t, "nested", string(data))
}

func TestFsJail_PathTraversalBlocked(t *testing.T) {
	jail, err := Create(filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, err)

	_, _, err = jail.GetFile("/../secret.txt", 0)
	assert.Error(t, err)
}

func TestFsJail_ReadDirWorks(t *testing.T) {
	jail, err := Create(filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, err)

	require.NoError(t, jail.PutFile("/a.txt", []byte("a"), false, 0))
	require.NoError(t, jail.PutFile("/b.txt", []byte("bb"), false, 0))
	require.NoError(t, jail.PutFile("/subdir/c.txt", []byte("c"), true, 0))

	entries, err := jail.ReadDir("/")
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	var found bool
	for _, e := range entries {
		if e.Name == "subdir" {
			found = true
			assert.True(t, e.IsDir)
		}
	}
	assert.True(t, found)
}

func TestFsJail_RemovePathFile(t *testing.T) {
	jail, err := Create(filepath.Join(t.TempDir(), "ws"))
	require.NoError(t, err)

	require.NoError(t, jail.PutFile("/rm_me.txt", []byte("gone"), false, 0))
	require.NoError(t, jail.RemovePath("/rm_me.txt", false))

	_, _, err = jail.GetFile("/rm_me.txt", 0)
	assert.Error(t, err)
}

func TestFsJail_DestroyRemovesWorkspace(t *testing.T) {
	wsPath := filepath.Join(t.TempDir(), "ws")
	jail, err := Create(wsPath)
	require.NoError(t, err)

	require.NoError(t, jail.PutFile("/file.txt", []byte("data"), false, 0))
	require.NoError(t, jail.Destroy())

	_, err = Attach(wsPath)
	assert.Error(t, err)
}

func TestFsJail_AttachFailsIfNotExists(t *testing.T) {
	_, err := Attach(filepath.Join(t.TempDir(), "nonexistent", "xyz"))
	assert.Error(t, err)
}
