package cmd

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	_ "github.com/odyssey-erp/odyssey-iam/testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("BCRYPT_COST", "4")

	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSeedCommand(t *testing.T) {
	out, err := execute(t, "seed")
	require.NoError(t, err)
	assert.Contains(t, out, fmt.Sprintf("permissions created: %d\n", len(shared.CoreScopes())))
	assert.Contains(t, out, "roles created: 2\n")
	assert.NotContains(t, out, "administrator")
}

func TestBootstrapAdminCommand(t *testing.T) {
	out, err := execute(t, "bootstrap-admin", "--email", "Root@Example.com", "--password", "s3cret-pass")
	require.NoError(t, err)
	assert.Contains(t, out, "administrator created: Root@Example.com")

	_, err = execute(t, "bootstrap-admin", "--email", "root@example.com")
	assert.Error(t, err)

	_, err = execute(t, "bootstrap-admin")
	assert.Error(t, err)
}

func TestMigrateCommand(t *testing.T) {
	out, err := execute(t, "migrate", "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "0001_iam_core")

	_, err = execute(t, "migrate")
	assert.ErrorContains(t, err, "STORE_DRIVER=postgres")
}

func TestJobsCommandRequiresRedis(t *testing.T) {
	_, err := execute(t, "jobs", "stats")
	assert.ErrorContains(t, err, "REDIS_ADDR")
}
