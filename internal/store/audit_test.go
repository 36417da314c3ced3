// ABOUTME: Tests for audit log store operations
// ABOUTME: Covers Append and List with filtering for the audit_log table

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "audit.db")

	store, err := NewSQLiteStore(dbPath, discardLogger())
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "audit.db")

	store, err := NewSQLiteStore(dbPath, discardLogger())
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created in nested directory")
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:", discardLogger())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.AppendAuditLog(context.Background(), &AuditEntry{
		Actor:  ActorMaster,
		Action: AuditLogout,
	}))
	entries, err := store.ListAuditLog(context.Background(), AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAuditStore_Append(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	entry := &AuditEntry{
		Actor:      ActorMaster,
		Action:     AuditUserAdded,
		Target:     "alice",
		RemoteAddr: "127.0.0.1:5000",
		Detail:     map[string]any{"via": "admin panel"},
	}

	err := store.AppendAuditLog(ctx, entry)
	require.NoError(t, err)

	// Should have generated ID and timestamp
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.Timestamp.IsZero())

	entries, err := store.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].Target)
	assert.Equal(t, "127.0.0.1:5000", entries[0].RemoteAddr)
	assert.Equal(t, "admin panel", entries[0].Detail["via"])
}

func TestAuditStore_AppendDefaultsActor(t *testing.T) {
	store := setupTestStore(t)

	entry := &AuditEntry{Action: AuditLoginFailed}
	require.NoError(t, store.AppendAuditLog(context.Background(), entry))
	assert.Equal(t, ActorAnonymous, entry.Actor)
}

func TestAuditStore_RejectsUnknownAction(t *testing.T) {
	store := setupTestStore(t)

	err := store.AppendAuditLog(context.Background(), &AuditEntry{
		Actor:  ActorMaster,
		Action: AuditAction("drop_tables"),
	})
	assert.Error(t, err)
}

func TestAuditStore_List_NewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// Same timestamp for all three: insertion order breaks the tie.
	ts := time.Now().UTC()
	for _, action := range []AuditAction{AuditLoginSucceeded, AuditUserAdded, AuditLogout} {
		require.NoError(t, store.AppendAuditLog(ctx, &AuditEntry{
			Actor:     ActorMaster,
			Action:    action,
			Timestamp: ts,
		}))
	}

	entries, err := store.ListAuditLog(ctx, AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, AuditLogout, entries[0].Action)
	assert.Equal(t, AuditLoginSucceeded, entries[2].Action)
}

func TestAuditStore_List_Filters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	seed := []AuditEntry{
		{Actor: "alice", Action: AuditLoginSucceeded, Timestamp: base},
		{Actor: "alice", Action: AuditLogout, Timestamp: base.Add(10 * time.Minute)},
		{Actor: ActorMaster, Action: AuditUserAdded, Target: "bob", Timestamp: base.Add(20 * time.Minute)},
		{Actor: ActorAnonymous, Action: AuditLoginFailed, Timestamp: base.Add(30 * time.Minute)},
	}
	for i := range seed {
		require.NoError(t, store.AppendAuditLog(ctx, &seed[i]))
	}

	actor := "alice"
	entries, err := store.ListAuditLog(ctx, AuditFilter{Actor: &actor})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	action := AuditLoginFailed
	entries, err = store.ListAuditLog(ctx, AuditFilter{Action: &action})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ActorAnonymous, entries[0].Actor)

	since := base.Add(15 * time.Minute)
	entries, err = store.ListAuditLog(ctx, AuditFilter{Since: &since})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = store.ListAuditLog(ctx, AuditFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, AuditLoginFailed, entries[0].Action)
}

func TestAuditStore_List_Empty(t *testing.T) {
	store := setupTestStore(t)

	entries, err := store.ListAuditLog(context.Background(), AuditFilter{})
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestNormalizeAuditLimit(t *testing.T) {
	assert.Equal(t, 100, normalizeAuditLimit(0))
	assert.Equal(t, 100, normalizeAuditLimit(-5))
	assert.Equal(t, 50, normalizeAuditLimit(50))
	assert.Equal(t, 1000, normalizeAuditLimit(5000))
}

func TestNopAuditor(t *testing.T) {
	var a Auditor = NopAuditor{}
	require.NoError(t, a.AppendAuditLog(context.Background(), &AuditEntry{Action: AuditLogout}))
	entries, err := a.ListAuditLog(context.Background(), AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}
