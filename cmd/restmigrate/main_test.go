package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CaseSolvedUK/rest-migrate/pkg/tree"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTreeCommands(t *testing.T) {
	file := filepath.Join(t.TempDir(), "tree.yaml")

	out, err := run(t, "--tree", file, "tree", "add", "https://api.example.com", "--group")
	require.NoError(t, err)
	rootID := strings.TrimSpace(out)
	require.NotEmpty(t, rootID)

	out, err = run(t, "--tree", file, "tree", "add", "users", "--parent", rootID)
	require.NoError(t, err)
	leafID := strings.TrimSpace(out)

	out, err = run(t, "--tree", file, "tree", "ls")
	require.NoError(t, err)
	assert.Contains(t, out, rootID)
	assert.Contains(t, out, "https://api.example.com")

	_, err = run(t, "--tree", file, "tree", "set", leafID,
		"--target-entity", "Customer", "--target-field", "customer_name",
		"--param", "limit=10", "--param", "X-Token=abc:Header")
	require.NoError(t, err)

	repo, err := tree.OpenFile(file)
	require.NoError(t, err)
	seg, err := repo.Get(context.Background(), leafID)
	require.NoError(t, err)
	assert.Equal(t, "Customer", seg.TargetEntityType)
	assert.Equal(t, []tree.Param{
		{Key: "limit", Value: "10", Kind: tree.ParamQuery},
		{Key: "X-Token", Value: "abc", Kind: tree.ParamHeader},
	}, seg.Params)

	_, err = run(t, "--tree", file, "tree", "rm", rootID)
	assert.Error(t, err)

	_, err = run(t, "--tree", file, "tree", "rm", leafID)
	require.NoError(t, err)
}

func TestParseParam(t *testing.T) {
	tests := []struct {
		raw     string
		want    tree.Param
		wantErr bool
	}{
		{raw: "page=1", want: tree.Param{Key: "page", Value: "1", Kind: tree.ParamQuery}},
		{raw: "Accept=application/json:Header", want: tree.Param{Key: "Accept", Value: "application/json", Kind: tree.ParamHeader}},
		{raw: "since=12:30", want: tree.Param{Key: "since", Value: "12:30", Kind: tree.ParamQuery}},
		{raw: "novalue", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseParam(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "restmigrate.yaml")

	_, err := run(t, "config", "init", path)
	require.NoError(t, err)

	_, err = run(t, "config", "init", path)
	assert.Error(t, err)

	out, err := run(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"backend": "memory"`)
}
