//go:build integration

package clinic_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/clinicdesk/internal/store"
	"github.com/phrazzld/clinicdesk/internal/testdb"
)

// TestPostgresAssignRoomNeverOverfills runs concurrent assignments through
// separate pgx connections. Set CLINIC_TEST_DB_HOST and friends to run it.
func TestPostgresAssignRoomNeverOverfills(t *testing.T) {
	creds, ok := testdb.PostgresCredentials()
	if !ok {
		t.Skip("CLINIC_TEST_DB_HOST not set")
	}

	ctx := context.Background()
	m := store.NewManager(testdb.DiscardLogger())
	require.NoError(t, m.Connect(ctx, creds))
	t.Cleanup(func() { _ = m.Shutdown() })
	_, err := m.Migrate(ctx)
	require.NoError(t, err)

	q := newQueries(nil)
	run(t, m, q.Seed(8))

	room := 900000 + time.Now().UnixNano()%100000
	run(t, m, func(ctx context.Context, s *store.Session) (int64, error) {
		_, err := s.ExecContext(ctx, `
			INSERT INTO room (room_number, capacity, department_id)
			SELECT $1, 2, MIN(id) FROM department
		`, room)
		return 0, err
	})
	t.Cleanup(func() {
		_, _ = store.Run(context.Background(), m, func(ctx context.Context, s *store.Session) (int64, error) {
			if _, err := s.ExecContext(ctx, "DELETE FROM room_assignment WHERE room_number = $1", room); err != nil {
				return 0, err
			}
			_, err := s.ExecContext(ctx, "DELETE FROM room WHERE room_number = $1", room)
			return 0, err
		})
	})

	var ids []int64
	for _, p := range run(t, m, q.AllPatients(nil)).Patients {
		if len(ids) == 8 {
			break
		}
		ids = append(ids, p.ID)
	}
	require.Len(t, ids, 8)

	assigned, full := assignConcurrently(t, m, q, room, ids)
	assert.Equal(t, 2, assigned)
	assert.Equal(t, 6, full)
	assert.Equal(t, 2, occupants(t, m, room))
}
