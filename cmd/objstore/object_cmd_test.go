package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"objstore/internal/storagetest"
	"objstore/pkg/storage"

	_ "objstore/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveRange(t *testing.T) {
	cases := []struct {
		spec   string
		suffix int64
		want   storage.GetRange
	}{
		{"", 0, storage.FullRange()},
		{"10-20", 0, storage.BoundedRange(10, 20)},
		{"10-", 0, storage.OffsetRange(10)},
		{"", 5, storage.SuffixRange(5)},
	}
	for _, tc := range cases {
		got, err := resolveRange(tc.spec, tc.suffix)
		require.NoError(t, err, tc.spec)
		assert.Equal(t, tc.want, got, tc.spec)
	}

	for _, bad := range []string{"10", "a-5", "5-b", "20-10", "5-5"} {
		_, err := resolveRange(bad, 0)
		assert.Error(t, err, bad)
	}
	_, err := resolveRange("", -1)
	assert.Error(t, err)
}

// Runs the CLI against an isolated config file
func run(t *testing.T, stdout *bytes.Buffer, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	if stdout != nil {
		cmd.SetOut(stdout)
	}
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	return cmd.ExecuteContext(context.Background())
}

func TestPutAndCat(t *testing.T) {
	srv := storagetest.NewServer(t, "bucket")
	src := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello from disk"), 0o644))

	require.NoError(t, run(t, nil, "put", src, srv.BucketURL()+"/notes/note.txt"))
	data, ok := srv.Object("notes/note.txt")
	require.True(t, ok)
	assert.Equal(t, "hello from disk", string(data))

	var out bytes.Buffer
	require.NoError(t, run(t, &out, "cat", srv.BucketURL()+"/notes/note.txt"))
	assert.Equal(t, "hello from disk", out.String())

	out.Reset()
	require.NoError(t, run(t, &out, "cat", "--range", "6-10", srv.BucketURL()+"/notes/note.txt"))
	assert.Equal(t, "from", out.String())

	out.Reset()
	require.NoError(t, run(t, &out, "cat", "--suffix", "4", srv.BucketURL()+"/notes/note.txt"))
	assert.Equal(t, "disk", out.String())
}

func TestGetWritesFile(t *testing.T) {
	srv := storagetest.NewServer(t, "bucket")
	srv.PutObject("data.bin", []byte{1, 2, 3})
	dest := filepath.Join(t.TempDir(), "out.bin")

	require.NoError(t, run(t, nil, "get", "-o", dest, srv.BucketURL()+"/data.bin"))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	missing := filepath.Join(t.TempDir(), "missing.bin")
	err = run(t, nil, "get", "-o", missing, srv.BucketURL()+"/nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.NoFileExists(t, missing)
}

func TestPutIfNotExistsFlag(t *testing.T) {
	srv := storagetest.NewServer(t, "bucket")
	srv.PutObject("taken", []byte("old"))
	src := filepath.Join(t.TempDir(), "new.txt")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0o644))

	err := run(t, nil, "put", "--if-not-exists", src, srv.BucketURL()+"/taken")
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	err = run(t, nil, "put", "--part-size", "lots", src, srv.BucketURL()+"/other")
	assert.Error(t, err)
}

func TestRangeFlagsAreExclusive(t *testing.T) {
	srv := storagetest.NewServer(t, "bucket")
	err := run(t, nil, "cat", "--range", "0-1", "--suffix", "1", srv.BucketURL()+"/k")
	assert.Error(t, err)
}

func TestRecursiveRemoveWithForce(t *testing.T) {
	srv := storagetest.NewServer(t, "bucket")
	srv.PutObject("dir/a", []byte("a"))
	srv.PutObject("dir/b", []byte("b"))
	srv.PutObject("keep", []byte("k"))

	require.NoError(t, run(t, nil, "rm", "--recursive", "--force", srv.BucketURL()+"/dir"))
	assert.Equal(t, []string{"keep"}, srv.Keys())
}

func TestCopyAndMoveCommands(t *testing.T) {
	srv := storagetest.NewServer(t, "bucket")
	srv.PutObject("src", []byte("x"))

	require.NoError(t, run(t, nil, "cp", srv.BucketURL()+"/src", srv.BucketURL()+"/copy"))
	require.NoError(t, run(t, nil, "mv", srv.BucketURL()+"/copy", srv.BucketURL()+"/moved"))
	assert.Equal(t, []string{"moved", "src"}, srv.Keys())

	err := run(t, nil, "cp", "--if-not-exists", srv.BucketURL()+"/src", srv.BucketURL()+"/moved")
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)
}

func TestConfigCommands(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	exec := func(args ...string) error {
		cmd := newRootCmd()
		cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
		return cmd.ExecuteContext(context.Background())
	}

	require.NoError(t, exec("config", "set", "gcp.bucket", "backups"))
	require.NoError(t, exec("config", "get", "gcp.bucket"))
	require.NoError(t, exec("config", "list"))
	assert.Error(t, exec("config", "set", "gcp.nope", "x"))

	require.NoError(t, exec("config", "delete", "gcp.bucket"))
	assert.Error(t, exec("config", "get", "gcp.bucket"))
	assert.Error(t, exec("config", "delete", "gcp.bucket"))
}
