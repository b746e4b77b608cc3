package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/shopadmin/pkg/apperr"
	"github.com/platinummonkey/shopadmin/pkg/storage/storagetest"
)

func newTestDBLogger(t *testing.T) *DBLogger {
	t.Helper()
	db := storagetest.OpenSQLite(t, storagetest.Component{Name: "audit", Migrations: Migrations()})
	logger, err := NewDBLogger(db)
	require.NoError(t, err)
	return logger
}

func TestNewDBLogger_NilDatabase(t *testing.T) {
	logger, err := NewDBLogger(nil)
	assert.Error(t, err)
	assert.Nil(t, logger)
	assert.Contains(t, err.Error(), "database connection is required")
}

func TestDBLogger_LogAndGet(t *testing.T) {
	logger := newTestDBLogger(t)
	ctx := context.Background()

	event := NewEvent(ctx, EventTypeAuthzPermissionGrant, EventStatusSuccess)
	event.UserID = "admin-1"
	event.ResourceType = ResourceTypePermission
	event.ResourceID = "PRODUCT:VIEW"
	event.Metadata = map[string]interface{}{"role_id": "member"}
	event.Changes = &ChangeDetails{After: map[string]interface{}{"granted": true}}
	require.NoError(t, logger.Log(ctx, event))

	got, err := logger.Get(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, EventTypeAuthzPermissionGrant, got.EventType)
	assert.Equal(t, "admin-1", got.UserID)
	assert.Equal(t, "member", got.Metadata["role_id"])
	require.NotNil(t, got.Changes)
	assert.WithinDuration(t, event.Timestamp, got.Timestamp, time.Second)
}

func TestDBLogger_GetMissing(t *testing.T) {
	logger := newTestDBLogger(t)

	_, err := logger.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDBLogger_Search(t *testing.T) {
	logger := newTestDBLogger(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	seed := []struct {
		eventType EventType
		userID    string
		status    EventStatus
	}{
		{EventTypeAuthzPermissionGrant, "alice", EventStatusSuccess},
		{EventTypeAuthzPermissionRevoke, "alice", EventStatusSuccess},
		{EventTypeAdminRoleCreate, "bob", EventStatusSuccess},
		{EventTypeAuthzAccessDenied, "bob", EventStatusDenied},
	}
	for i, s := range seed {
		event := NewEvent(ctx, s.eventType, s.status)
		event.Timestamp = base.Add(time.Duration(i) * time.Minute)
		event.UserID = s.userID
		require.NoError(t, logger.Log(ctx, event))
	}

	tests := []struct {
		name      string
		filter    SearchFilter
		wantTotal int
		wantFirst EventType
		wantCount int
	}{
		{
			name:      "all newest first",
			filter:    SearchFilter{},
			wantTotal: 4,
			wantFirst: EventTypeAuthzAccessDenied,
			wantCount: 4,
		},
		{
			name:      "by user",
			filter:    SearchFilter{UserID: "alice"},
			wantTotal: 2,
			wantFirst: EventTypeAuthzPermissionRevoke,
			wantCount: 2,
		},
		{
			name:      "by event types",
			filter:    SearchFilter{EventTypes: []EventType{EventTypeAuthzPermissionGrant, EventTypeAdminRoleCreate}},
			wantTotal: 2,
			wantFirst: EventTypeAdminRoleCreate,
			wantCount: 2,
		},
		{
			name:      "by status",
			filter:    SearchFilter{Status: EventStatusDenied},
			wantTotal: 1,
			wantFirst: EventTypeAuthzAccessDenied,
			wantCount: 1,
		},
		{
			name:      "paged total counts filter not page",
			filter:    SearchFilter{Limit: 1, Offset: 1},
			wantTotal: 4,
			wantFirst: EventTypeAdminRoleCreate,
			wantCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := logger.Search(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, result.TotalRecords)
			require.Len(t, result.Events, tt.wantCount)
			assert.Equal(t, tt.wantFirst, result.Events[0].EventType)
		})
	}
}

func TestDBLogger_LogInsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnError(errors.New("disk full"))

	logger, err := NewDBLogger(db)
	require.NoError(t, err)

	err = logger.Log(context.Background(), NewEvent(context.Background(), EventTypeAdminUserCreate, EventStatusSuccess))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert audit log")
	assert.NoError(t, mock.ExpectationsWereMet())
}
