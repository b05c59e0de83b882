package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamscao/vpnaccess/internal/db"
	"github.com/adamscao/vpnaccess/internal/models"
)

// setupTestDB opens a migrated in-memory database. The pool is capped at a
// single connection so every query sees the same in-memory database.
func setupTestDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations(database))

	t.Cleanup(func() { _ = database.Close() })

	return database
}

func seedUser(t *testing.T, database *db.DB, name, role string) *models.User {
	t.Helper()

	u := &models.User{Name: name, Email: name + "@school.test", Role: role}
	require.NoError(t, NewUserRepository(database.DB).Create(context.Background(), u))
	return u
}

// stepClock returns a clock that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	database := setupTestDB(t)
	require.NoError(t, db.RunMigrations(database))

	var versions int
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&versions))
	assert.Equal(t, 1, versions)
}

func TestUserRepository_GetByID(t *testing.T) {
	database := setupTestDB(t)
	repo := NewUserRepository(database.DB)
	ctx := context.Background()

	u := seedUser(t, database, "ada", "teacher")

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada", got.Name)
	assert.Equal(t, "teacher", got.Role)

	_, err = repo.GetByID(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCredentialRepository_ActivateOnce(t *testing.T) {
	database := setupTestDB(t)
	repo := NewCredentialRepository(database.DB)
	ctx := context.Background()
	u := seedUser(t, database, "ada", "teacher")

	rec := &models.CredentialRecord{UserID: u.ID, ClientID: "user1", MFASecret: "sealed", RenderedProfile: "client\n"}
	require.NoError(t, repo.Activate(ctx, rec))
	assert.Equal(t, models.StateActive, rec.State)

	err := repo.Activate(ctx, &models.CredentialRecord{UserID: u.ID, ClientID: "user1"})
	assert.ErrorIs(t, err, ErrAlreadyActive)

	got, err := repo.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateActive, got.State)
	assert.Equal(t, "sealed", got.MFASecret)
	assert.Equal(t, "client\n", got.RenderedProfile)
	assert.Nil(t, got.RevokedAt)
}

func TestCredentialRepository_RevokeThenReissue(t *testing.T) {
	database := setupTestDB(t)
	repo := NewCredentialRepository(database.DB)
	ctx := context.Background()
	u := seedUser(t, database, "ada", "teacher")

	assert.ErrorIs(t, repo.MarkRevoked(ctx, u.ID), ErrNotActive)

	require.NoError(t, repo.Activate(ctx, &models.CredentialRecord{UserID: u.ID, ClientID: "user1", MFASecret: "old"}))
	require.NoError(t, repo.MarkRevoked(ctx, u.ID))
	assert.ErrorIs(t, repo.MarkRevoked(ctx, u.ID), ErrNotActive)

	revoked, err := repo.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateRevoked, revoked.State)
	require.NotNil(t, revoked.RevokedAt)

	require.NoError(t, repo.Activate(ctx, &models.CredentialRecord{UserID: u.ID, ClientID: "user1", MFASecret: "new"}))

	reissued, err := repo.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateActive, reissued.State)
	assert.Equal(t, "new", reissued.MFASecret)
	assert.Equal(t, revoked.ID, reissued.ID, "re-issue reuses the single per-user record")
	assert.Nil(t, reissued.RevokedAt)
}

func TestCredentialRepository_PendingMarker(t *testing.T) {
	database := setupTestDB(t)
	repo := NewCredentialRepository(database.DB)
	ctx := context.Background()
	u := seedUser(t, database, "ada", "teacher")

	require.NoError(t, repo.MarkPending(ctx, u.ID, "user1", models.PendingIssue))

	rec, err := repo.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateNone, rec.State)
	assert.Equal(t, models.PendingIssue, rec.PendingOp)

	require.NoError(t, repo.Activate(ctx, &models.CredentialRecord{UserID: u.ID, ClientID: "user1"}))
	rec, err = repo.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PendingNone, rec.PendingOp)

	require.NoError(t, repo.MarkPending(ctx, u.ID, "user1", models.PendingRevoke))
	require.NoError(t, repo.ClearPending(ctx, u.ID))
	rec, err = repo.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateActive, rec.State)
	assert.Equal(t, models.PendingNone, rec.PendingOp)
}

func TestCredentialRepository_ConcurrentActivate(t *testing.T) {
	database := setupTestDB(t)
	repo := NewCredentialRepository(database.DB)
	ctx := context.Background()
	u := seedUser(t, database, "ada", "teacher")

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.Activate(ctx, &models.CredentialRecord{UserID: u.ID, ClientID: "user1"})
		}()
	}
	wg.Wait()
	close(errs)

	var wins, losses int
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyActive)
		losses++
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, workers-1, losses)
}

func TestCredentialRepository_ListActive(t *testing.T) {
	database := setupTestDB(t)
	repo := NewCredentialRepository(database.DB)
	ctx := context.Background()

	ada := seedUser(t, database, "ada", "teacher")
	bob := seedUser(t, database, "bob", "admin")
	cy := seedUser(t, database, "cy", "teacher")

	require.NoError(t, repo.Activate(ctx, &models.CredentialRecord{UserID: ada.ID, ClientID: "user1", MFASecret: "x"}))
	require.NoError(t, repo.Activate(ctx, &models.CredentialRecord{UserID: bob.ID, ClientID: "user2"}))
	require.NoError(t, repo.MarkRevoked(ctx, bob.ID))
	require.NoError(t, repo.MarkPending(ctx, cy.ID, "user3", models.PendingIssue))

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, ada.ID, active[0].UserID)
	assert.Equal(t, "ada@school.test", active[0].Email)
	assert.True(t, active[0].MFA)
}

func TestConnectionRepository_QueryNewestFirst(t *testing.T) {
	database := setupTestDB(t)
	repo := NewConnectionRepository(database.DB)
	repo.now = stepClock(time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := repo.Append(ctx, 42, "10.0.0.1", models.EventConnect)
		require.NoError(t, err)
	}
	_, err := repo.Append(ctx, 7, "10.0.0.2", models.EventConnect)
	require.NoError(t, err)

	events, err := repo.Query(ctx, 42, 3)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, int64(5), events[0].ID)
	assert.Equal(t, int64(4), events[1].ID)
	assert.Equal(t, int64(3), events[2].ID)
	assert.True(t, events[0].Timestamp.After(events[1].Timestamp))
	assert.True(t, events[1].Timestamp.After(events[2].Timestamp))
}

func TestConnectionRepository_QueryEmpty(t *testing.T) {
	database := setupTestDB(t)
	repo := NewConnectionRepository(database.DB)

	events, err := repo.Query(context.Background(), 42, 10)
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestConnectionRepository_Prune(t *testing.T) {
	database := setupTestDB(t)
	repo := NewConnectionRepository(database.DB)
	start := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	repo.now = stepClock(start)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := repo.Append(ctx, 42, "10.0.0.1", models.EventConnect)
		require.NoError(t, err)
	}

	// events are stamped start+1s .. start+4s
	n, err := repo.Prune(ctx, start.Add(2*time.Second+time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	events, err := repo.Query(ctx, 42, 10)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultHistoryLimit},
		{-3, DefaultHistoryLimit},
		{3, 3},
		{MaxHistoryLimit, MaxHistoryLimit},
		{MaxHistoryLimit + 1, MaxHistoryLimit},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampLimit(tt.in), "ClampLimit(%d)", tt.in)
	}
}
