package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandTree(t *testing.T) {
	root := NewRootCommand()

	for _, path := range [][]string{
		{"worker"},
		{"migrate"},
		{"dispatch"},
		{"retry"},
		{"sweep"},
		{"events", "list"},
		{"events", "stats"},
		{"ledger", "lock"},
		{"ledger", "lock-period"},
		{"ledger", "adjust"},
		{"ledger", "show"},
		{"ledger", "balance"},
		{"costs", "post"},
	} {
		cmd, rest, err := root.Find(path)
		require.NoError(t, err, strings.Join(path, " "))
		assert.Empty(t, rest)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestFlagValidationRunsBeforeStartup(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want string
	}{
		{"retry needs a mode", []string{"retry"}, "exactly one of --event or --all-failed"},
		{"retry rejects both modes", []string{"retry", "--event", "5", "--all-failed"}, "exactly one of --event or --all-failed"},
		{"retry single needs tenant", []string{"retry", "--event", "5"}, "invalid tenant id"},
		{"dispatch batch size", []string{"dispatch", "--batch-size", "0"}, "batch-size must be positive"},
		{"dispatch tenant", []string{"dispatch", "--tenant", "abc"}, "invalid tenant id"},
		{"events status", []string{"events", "list", "--status", "done"}, "invalid status"},
		{"lock needs id", []string{"ledger", "lock", "--tenant", "7"}, "invalid transaction id"},
		{"lock period format", []string{"ledger", "lock-period", "--tenant", "7", "--period", "2026/01"}, ""},
		{"adjust delta", []string{"ledger", "adjust", "--tenant", "7", "--id", "9", "--delta", "ten"}, "invalid delta"},
		{"show mode", []string{"ledger", "show", "--tenant", "7"}, "exactly one of --id or --work-order"},
		{"balance date", []string{"ledger", "balance", "--tenant", "7", "--from", "01-02-2026"}, "invalid date"},
		{"env file", []string{"--env-file", filepath.Join(t.TempDir(), "missing.env"), "sweep"}, "load env file"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := execute(t, tc.args...)
			require.Error(t, err)
			if tc.want != "" {
				assert.Contains(t, err.Error(), tc.want)
			}
		})
	}
}

func TestParseHelpers(t *testing.T) {
	id, err := parseTenant(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(42), id)

	_, err = parseTenant("0")
	assert.Error(t, err)
	_, err = parseTenant("-3")
	assert.Error(t, err)

	opt, err := parseOptionalTenant("")
	require.NoError(t, err)
	assert.Nil(t, opt)

	opt, err = parseOptionalTenant("9")
	require.NoError(t, err)
	require.NotNil(t, opt)
	assert.Equal(t, snowflake.ID(9), *opt)

	d, err := parseDate("2026-02-01")
	require.NoError(t, err)
	assert.Equal(t, 2026, d.Year())
	assert.Equal(t, 1, d.Day())

	d, err = parseDate("")
	require.NoError(t, err)
	assert.True(t, d.IsZero())
}

func TestReadWorkOrder(t *testing.T) {
	body := `{"work_order_id": 1001, "asset_id": "pump-7", "category": "corrective",
		"labor": [{"time_entry_id": 1, "role": "technician", "hours": "3.5", "hourly_rate": "95"}]}`

	data, err := readWorkOrder(strings.NewReader(body), "-")
	require.NoError(t, err)
	assert.Equal(t, "1001", data.WorkOrderID.String())
	assert.Equal(t, "pump-7", data.AssetID.String())
	require.Len(t, data.Labor, 1)
	assert.Equal(t, "3.5", data.Labor[0].Hours.String())

	path := filepath.Join(t.TempDir(), "wo.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	data, err = readWorkOrder(nil, path)
	require.NoError(t, err)
	assert.Equal(t, "corrective", data.Category)

	_, err = readWorkOrder(strings.NewReader("{"), "")
	assert.Error(t, err)
}
