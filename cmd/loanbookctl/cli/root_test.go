package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/loanbook/internal/app"
	"github.com/odyssey-erp/loanbook/internal/auth"
	"github.com/odyssey-erp/loanbook/jobs"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type stubJobs struct {
	books  []uuid.UUID
	sweeps int
	stats  jobs.QueueStats
	closed bool
}

func (s *stubJobs) EnqueueIntegrity(_ context.Context, id uuid.UUID) error {
	s.books = append(s.books, id)
	return nil
}

func (s *stubJobs) EnqueueSweep(context.Context) (*asynq.TaskInfo, error) {
	s.sweeps++
	return &asynq.TaskInfo{ID: "sweep-1"}, nil
}

func (s *stubJobs) Stats() (jobs.QueueStats, error) { return s.stats, nil }

func (s *stubJobs) Close() error {
	s.closed = true
	return nil
}

func testDeps(stub *stubJobs, migrated *string) Deps {
	return Deps{
		LoadConfig: func() (*app.Config, error) {
			return &app.Config{JWTSecret: testSecret, PGDSN: "postgres://test"}, nil
		},
		Migrate: func(_ context.Context, dsn string) error {
			*migrated = dsn
			return nil
		},
		Jobs: func(*app.Config) (JobsAPI, error) { return stub, nil },
	}
}

func run(t *testing.T, deps Deps, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(deps)
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	var migrated string
	out, err := run(t, testDeps(&stubJobs{}, &migrated), "token", "--user", "alice")
	require.NoError(t, err)

	sess, err := auth.NewVerifier(testSecret).Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "alice", sess.UserID)

	_, err = run(t, testDeps(&stubJobs{}, &migrated), "token")
	assert.Error(t, err)
}

func TestMigrateCommandUsesConfiguredDSN(t *testing.T) {
	var migrated string
	out, err := run(t, testDeps(&stubJobs{}, &migrated), "migrate")
	require.NoError(t, err)
	assert.Equal(t, "postgres://test", migrated)
	assert.Contains(t, out, "schema applied")
}

func TestJobsTriggerIntegrity(t *testing.T) {
	var migrated string
	stub := &stubJobs{}
	id := uuid.New()

	out, err := run(t, testDeps(stub, &migrated), "jobs", "trigger", "integrity", "--book", id.String())
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{id}, stub.books)
	assert.Contains(t, out, id.String())
	assert.True(t, stub.closed)

	_, err = run(t, testDeps(stub, &migrated), "jobs", "trigger", "integrity")
	require.NoError(t, err)
	assert.Equal(t, 1, stub.sweeps)

	_, err = run(t, testDeps(stub, &migrated), "jobs", "trigger", "integrity", "--book", "nope")
	assert.ErrorContains(t, err, "invalid book id")
}

func TestJobsStatsJSON(t *testing.T) {
	var migrated string
	stub := &stubJobs{stats: jobs.QueueStats{Queue: jobs.QueueDefault, Pending: 2, Retry: 1}}

	out, err := run(t, testDeps(stub, &migrated), "jobs", "stats", "--json")
	require.NoError(t, err)
	var got jobs.QueueStats
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, stub.stats, got)
}
