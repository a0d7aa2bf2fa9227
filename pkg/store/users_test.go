package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barakah-labs/minaret/pkg/errs"
)

func testUserRow(id int64, email, role string, active bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "email", "password_hash", "first_name", "last_name", "role",
		"permissions", "active", "refresh_jti", "last_login_at", "created_at", "updated_at",
	}).AddRow(id, email, "$2a$10$hash", "", "", role, "{}", active, "", nil, now, now)
}

func TestUserCreateNormalizesEmail(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectQuery(`INSERT INTO admin_users`).
		WithArgs("ops@example.com", "$2a$10$hash", "", "", RoleAdmin, sqlmock.AnyArg(), true).
		WillReturnRows(testUserRow(1, "ops@example.com", RoleAdmin, true))

	u, err := st.Users.Create(context.Background(), &AdminUser{
		Email: "  Ops@Example.COM ", PasswordHash: "$2a$10$hash", Role: RoleAdmin, Active: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", u.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserCreateDuplicateEmailConflicts(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectQuery(`INSERT INTO admin_users`).
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := st.Users.Create(context.Background(), &AdminUser{
		Email: "ops@example.com", PasswordHash: "h", Role: RoleAdmin, Active: true,
	})
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
}

func TestUserUpdateBlocksDemotingLastSuperAdmin(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"is"}).AddRow(true))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM admin_users WHERE role`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectRollback()

	err := st.Users.Update(context.Background(), &AdminUser{
		ID: 1, Role: RoleViewer, Active: true,
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserUpdateAllowsDemotionWithAnotherSuperAdmin(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"is"}).AddRow(true))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM admin_users WHERE role`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(`UPDATE admin_users`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := st.Users.Update(context.Background(), &AdminUser{
		ID: 1, Role: RoleViewer, Active: true,
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserDeleteBlocksLastSuperAdmin(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"is"}).AddRow(true))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM admin_users WHERE role`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectRollback()

	err := st.Users.Delete(context.Background(), 1)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
}

func TestUserDeleteNonSuperAdmin(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"is"}).AddRow(false))
	mock.ExpectExec(`DELETE FROM admin_users`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assert.NoError(t, st.Users.Delete(context.Background(), 7))
}

func TestRotateRefreshRejectsReusedToken(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectExec(`UPDATE admin_users SET refresh_jti`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := st.Users.RotateRefresh(context.Background(), 1, "old-jti", "new-jti")
	assert.Equal(t, errs.KindAuth, errs.KindOf(err))
}

func TestRotateRefreshSwapsBoundToken(t *testing.T) {
	st, mock := newTestStore(t)
	mock.ExpectExec(`UPDATE admin_users SET refresh_jti`).
		WithArgs(int64(1), "old-jti", "new-jti").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, st.Users.RotateRefresh(context.Background(), 1, "old-jti", "new-jti"))
}
