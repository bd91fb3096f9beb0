package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestWorkFailsFastWithoutIdentity(t *testing.T) {
	t.Setenv("REGION_ID", "")
	t.Setenv("WORKER_ID", "")
	t.Setenv("UPTIME_WORKER_REGION_ID", "")
	t.Setenv("UPTIME_WORKER_WORKER_ID", "")

	_, err := execute(t, "work")
	require.Error(t, err)
	require.Contains(t, err.Error(), "REGION_ID and WORKER_ID must be set")
}

func TestProvisionCreatesGroups(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_URL", "redis://"+mr.Addr()+"/0")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("UPTIME_DATABASE_DSN", "")

	out, err := execute(t, "provision", "--region", "us-east", "--region", "eu-west")
	require.NoError(t, err)
	require.Contains(t, out, "consumer group ready: eu-west")
	require.Contains(t, out, "consumer group ready: us-east")
	require.True(t, mr.Exists("betterstack:website"))
}

func TestBadConfigFileFails(t *testing.T) {
	_, err := execute(t, "--config", t.TempDir()+"/missing.yaml", "provision")
	require.Error(t, err)
	require.Contains(t, err.Error(), "load config")
}

func TestDispatchRequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("UPTIME_DATABASE_DSN", "")

	_, err := execute(t, "dispatch", "--once")
	require.Error(t, err)
	require.Contains(t, err.Error(), "DATABASE_URL")
}
