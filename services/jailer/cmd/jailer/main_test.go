package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jailer/pkg/operator"
	"jailer/pkg/operator/operatortest"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := &application{stdout: &stdout, stderr: &stderr}
	cmd := newRootCommand(app)
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	app.close()
	return stdout.String(), err
}

func startController(t *testing.T) (*operatortest.Controller, string) {
	t.Helper()
	t.Setenv("JAILER_CONFIG", "")
	ctrl := operatortest.New()
	ctrl.AddInmate(operator.Inmate{ID: 7, Hostname: "h1", LastCheckIn: 0})
	ctrl.SetRecent(7, operator.PostRequest{Timestamp: 100, ActionType: "shell", ActionParameters: "whoami", Content: []byte("ok")})
	srv := ctrl.Start(t)
	return ctrl, srv.URL
}

func TestParseImplantID(t *testing.T) {
	tests := []struct {
		input   string
		want    uint32
		wantErr bool
	}{
		{input: "0", want: 0},
		{input: "7", want: 7},
		{input: "4294967295", want: 4294967295},
		{input: "4294967296", wantErr: true},
		{input: "-1", wantErr: true},
		{input: "seven", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseImplantID(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetInmateCommand(t *testing.T) {
	_, url := startController(t)

	out, err := execute(t, "--api", url, "get-inmate", "7")
	require.NoError(t, err)
	assert.Equal(t, "Inmate { implant_id: 7, hostname: h1, last_check_in: 1970-01-01 00:00:00 }\n", out)
}

func TestGetInmateCountCommand(t *testing.T) {
	_, url := startController(t)

	out, err := execute(t, "--api", url, "get-inmate-count")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)
}

func TestListInmatesJSONCommand(t *testing.T) {
	_, url := startController(t)

	out, err := execute(t, "--api", url, "-o", "json", "list-inmates")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":7,"hostname":"h1","last_checkin":0}]`, out)
}

func TestGetRecentTaskCommand(t *testing.T) {
	_, url := startController(t)

	out, err := execute(t, "--api", url, "get-recent-task", "7", "s")
	require.NoError(t, err)
	assert.Equal(t, "timestamp: 1970-01-01 00:01:40\nshell: whoami \nok\n", out)
}

func TestGetRecentTaskOutputCommand(t *testing.T) {
	_, url := startController(t)
	dir := filepath.Join(t.TempDir(), "artifacts")

	out, err := execute(t, "--api", url, "--artifacts-dir", dir, "get-recent-task", "7", "o")
	require.NoError(t, err)
	assert.Contains(t, out, "artifacts/7/shell/100")

	data, err := os.ReadFile(filepath.Join(dir, "7", "shell", "100"))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
}

func TestAddTaskCommand(t *testing.T) {
	ctrl, url := startController(t)

	out, err := execute(t, "--api", url, "add-task", "7", "shell", "whoami")
	require.NoError(t, err)
	assert.Equal(t, "Task added\n", out)

	tasks := ctrl.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, `{"task":"shell","task_parameters":"whoami"}`, string(tasks[0].Body))
}

func TestCommandArgumentErrors(t *testing.T) {
	_, url := startController(t)

	_, err := execute(t, "--api", url, "get-inmate")
	assert.Error(t, err)

	_, err = execute(t, "--api", url, "get-inmate", "abc")
	assert.Error(t, err)

	_, err = execute(t, "--api", url, "add-task", "7", "shell")
	assert.Error(t, err)

	_, err = execute(t, "--api", url, "--output", "xml", "list-inmates")
	assert.Error(t, err)
}

func TestConnectionRefused(t *testing.T) {
	t.Setenv("JAILER_CONFIG", "")
	out, err := execute(t, "--api", "http://127.0.0.1:1", "list-inmates")
	assert.Error(t, err)
	assert.Empty(t, out)
}
