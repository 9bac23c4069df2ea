package store_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/phrazzld/clinicdesk/internal/platform/logger"
	"github.com/phrazzld/clinicdesk/internal/store"
	"github.com/phrazzld/clinicdesk/internal/testdb"
)

func insertDepartment(name string) store.UnitOfWork[int64] {
	return func(ctx context.Context, s *store.Session) (int64, error) {
		var id int64
		err := s.QueryRowContext(ctx,
			"INSERT INTO department (name) VALUES ($1) RETURNING id", name).Scan(&id)
		return id, err
	}
}

func departmentExists(name string) store.UnitOfWork[bool] {
	return func(ctx context.Context, s *store.Session) (bool, error) {
		var n int
		err := s.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM department WHERE name = $1", name).Scan(&n)
		return n > 0, err
	}
}

func TestRunCommitIsVisibleToLaterSessions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := testdb.NewSQLiteManager(t, nil)

	id, err := store.Run(ctx, m, insertDepartment("Cardiology"))
	require.NoError(t, err)
	assert.Positive(t, id)

	exists, err := store.Run(ctx, m, departmentExists("Cardiology"))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRunFailureLeavesNoTrace(t *testing.T) {
	t.Parallel()

	boom := errors.New("artificial failure")
	tests := []struct {
		name    string
		fail    func()
		wantErr func(t *testing.T, err error)
	}{
		{
			name: "returned error",
			wantErr: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, boom)
			},
		},
		{
			name: "panic",
			fail: func() { panic("artificial panic") },
			wantErr: func(t *testing.T, err error) {
				var pe *store.PanicError
				require.ErrorAs(t, err, &pe)
				assert.Equal(t, "artificial panic", pe.Value)
				assert.NotEmpty(t, pe.Stack)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			m := testdb.NewSQLiteManager(t, nil)

			value, err := store.Run(ctx, m, func(ctx context.Context, s *store.Session) (int64, error) {
				id, err := insertDepartment("Oncology")(ctx, s)
				require.NoError(t, err)
				if tt.fail != nil {
					tt.fail()
				}
				return id, boom
			})

			require.ErrorIs(t, err, store.ErrUnitOfWorkFailed)
			tt.wantErr(t, err)
			assert.Zero(t, value, "a failed unit of work yields the zero value")

			exists, err := store.Run(ctx, m, departmentExists("Oncology"))
			require.NoError(t, err)
			assert.False(t, exists, "rolled back write must not be visible")
		})
	}
}

func TestRunAcquiresAndReleasesExactlyOnce(t *testing.T) {
	t.Parallel()

	outcomes := map[string]store.UnitOfWork[int]{
		"success": func(context.Context, *store.Session) (int, error) { return 1, nil },
		"error":   func(context.Context, *store.Session) (int, error) { return 0, errors.New("failed") },
		"panic":   func(context.Context, *store.Session) (int, error) { panic("boom") },
		"commit failure": func(_ context.Context, s *store.Session) (int, error) {
			return 0, s.Commit()
		},
	}

	for name, fn := range outcomes {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			m := testdb.NewSQLiteManager(t, nil)

			_, _ = store.Run(context.Background(), m, fn)

			stats := m.Stats()
			assert.Equal(t, int64(1), stats.Acquired)
			assert.Equal(t, int64(1), stats.Released)
			assert.Zero(t, stats.Active)
		})
	}
}

func TestRunReportsCommitFailure(t *testing.T) {
	t.Parallel()
	m := testdb.NewSQLiteManager(t, nil)

	_, err := store.Run(context.Background(), m, func(_ context.Context, s *store.Session) (int, error) {
		return 0, s.Commit()
	})

	require.ErrorIs(t, err, store.ErrUnitOfWorkFailed)
	assert.ErrorIs(t, err, store.ErrSessionClosed)
}

func TestRunNotConnected(t *testing.T) {
	t.Parallel()
	m := store.NewManager(testdb.DiscardLogger())

	_, err := store.Run(context.Background(), m, departmentExists("Any"))

	require.ErrorIs(t, err, store.ErrNotConnected)
	assert.NotErrorIs(t, err, store.ErrUnitOfWorkFailed)
}

func TestRunLogsRedactedFailure(t *testing.T) {
	t.Parallel()
	m := testdb.NewSQLiteManager(t, nil)
	log, buf := logger.NewTestLogger(t)
	ctx := logger.WithContext(context.Background(), log)

	_, err := store.Run(ctx, m, func(context.Context, *store.Session) (int, error) {
		return 0, errors.New("dial postgres://clinic:hunter2@db:5432/clinic failed")
	})
	require.Error(t, err)

	entries := buf.EntriesWithMessage("unit of work failed, session rolled back")
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0]["error"], "hunter2")
	assert.NotEmpty(t, entries[0]["session_id"])
}

func TestScoped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := testdb.NewSQLiteManager(t, nil)

	insert := store.Scoped(m, insertDepartment("Neurology"))
	exists := store.Scoped(m, departmentExists("Neurology"))

	_, err := insert(ctx)
	require.NoError(t, err)

	found, err := exists(ctx)
	require.NoError(t, err)
	assert.True(t, found)
}

// TestRunRecordsSpan swaps the global tracer provider, so it does not run in parallel.
func TestRunRecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})

	m := testdb.NewSQLiteManager(t, nil)
	_, err := store.Run(context.Background(), m, insertDepartment("Pathology"))
	require.NoError(t, err)
	_, err = store.Run(context.Background(), m, insertDepartment("Pathology"))
	require.Error(t, err)

	spans := recorder.Ended()
	var outcomes []string
	for _, span := range spans {
		if span.Name() != "store.unit_of_work" {
			continue
		}
		assert.Equal(t, trace.SpanKindInternal, span.SpanKind())
		for _, attr := range span.Attributes() {
			if attr.Key == attribute.Key("outcome") {
				outcomes = append(outcomes, attr.Value.AsString())
			}
		}
	}
	assert.Equal(t, []string{"committed", "rolled_back"}, outcomes)
}

func TestMapErrorFromSQLite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := testdb.NewSQLiteManager(t, nil)

	_, err := store.Run(ctx, m, insertDepartment("Surgery"))
	require.NoError(t, err)

	_, err = store.Run(ctx, m, insertDepartment("Surgery"))
	require.Error(t, err)
	assert.True(t, store.IsUniqueViolation(err))
	assert.True(t, store.IsDuplicateError(store.MapError(err)))

	_, err = store.Run(ctx, m, func(ctx context.Context, s *store.Session) (int, error) {
		_, err := s.ExecContext(ctx,
			"INSERT INTO doctor (person_id, department_id) VALUES ($1, $2)", 999, 999)
		return 0, err
	})
	require.Error(t, err)
	assert.True(t, store.IsForeignKeyViolation(err))
	assert.ErrorIs(t, store.MapError(err), store.ErrInvalidEntity)

	_, err = store.Run(ctx, m, func(ctx context.Context, s *store.Session) (string, error) {
		var name string
		err := s.QueryRowContext(ctx, "SELECT name FROM department WHERE id = $1", -1).Scan(&name)
		return name, store.MapError(err)
	})
	assert.True(t, store.IsNotFoundError(err))
	assert.True(t, strings.Contains(err.Error(), "entity not found"))
}
