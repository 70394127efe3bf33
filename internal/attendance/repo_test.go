package attendance

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leveltwo/internal/model"
	"leveltwo/internal/store"
)

func integrationDB(t *testing.T) *store.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" || testing.Short() {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := store.NewDB(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func TestRepositoryUpsertKeepsOneRowPerMemberAndDate(t *testing.T) {
	db := integrationDB(t)
	ctx := context.Background()
	repo := NewRepository(db)

	memberID := uuid.NewString()
	_, err := db.Client.ExecContext(ctx, `INSERT INTO members (id, name) VALUES ($1, $2)`, memberID, "Mina "+memberID[:8])
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = db.Client.ExecContext(context.Background(), `DELETE FROM members WHERE id = $1`, memberID)
	})

	date := "2024-01-05"
	first, err := repo.Upsert(ctx, model.KindAttendance, []model.Record{
		{MemberID: memberID, Date: date, Status: model.StatusPresent, Notes: "early"},
	})
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.True(t, first[0].Inserted)
	assert.Equal(t, date, first[0].Record.Date)

	second, err := repo.Upsert(ctx, model.KindAttendance, []model.Record{
		{MemberID: memberID, Date: date, Status: model.StatusAbsent},
	})
	require.NoError(t, err)
	assert.False(t, second[0].Inserted)
	assert.Equal(t, first[0].Record.CreatedAt.Unix(), second[0].Record.CreatedAt.Unix())

	recs, err := repo.List(ctx, model.KindAttendance, date)
	require.NoError(t, err)
	var mine []model.Record
	for _, r := range recs {
		if r.MemberID == memberID {
			mine = append(mine, r)
		}
	}
	require.Len(t, mine, 1)
	assert.Equal(t, model.StatusAbsent, mine[0].Status)

	entries, err := repo.Range(ctx, model.KindAttendance, "2024-01-01", "2024-01-31", memberID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].MemberName, "Mina")

	_, err = repo.Delete(ctx, model.KindAttendance, memberID, date)
	require.NoError(t, err)
	_, err = repo.Delete(ctx, model.KindAttendance, memberID, date)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepositoryBatchRollsBack(t *testing.T) {
	db := integrationDB(t)
	ctx := context.Background()
	repo := NewRepository(db)

	memberID := uuid.NewString()
	_, err := db.Client.ExecContext(ctx, `INSERT INTO members (id, name) VALUES ($1, 'Karim')`, memberID)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = db.Client.ExecContext(context.Background(), `DELETE FROM members WHERE id = $1`, memberID)
	})

	_, err = repo.Upsert(ctx, model.KindVisits, []model.Record{
		{MemberID: memberID, Date: "2024-02-02", Status: model.StatusVisited},
		{MemberID: uuid.NewString(), Date: "2024-02-02", Status: model.StatusVisited},
	})
	require.Error(t, err)

	recs, err := repo.List(ctx, model.KindVisits, "2024-02-02")
	require.NoError(t, err)
	for _, r := range recs {
		assert.NotEqual(t, memberID, r.MemberID)
	}
}
