package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/barakah-labs/minaret/pkg/errs"
)

// Role names, ordered by privilege.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleEditor     = "editor"
	RoleViewer     = "viewer"
)

// AdminUser is an operator account.
type AdminUser struct {
	ID           int64
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         string
	Permissions  []string
	Active       bool
	RefreshJTI   string
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserRepo persists admin users.
type UserRepo struct {
	s *Store
}

const userColumns = `id, email, password_hash, COALESCE(first_name,''), COALESCE(last_name,''),
	role, permissions, active, COALESCE(refresh_jti,''), last_login_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*AdminUser, error) {
	var u AdminUser
	var perms pq.StringArray
	var lastLogin sql.NullTime
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.Role, &perms, &u.Active, &u.RefreshJTI, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Permissions = []string(perms)
	if lastLogin.Valid {
		u.LastLoginAt = &lastLogin.Time
	}
	return &u, nil
}

// Create inserts a new user. Email is lowercase-normalized. A duplicate email
// surfaces as a conflict.
func (r *UserRepo) Create(ctx context.Context, u *AdminUser) (*AdminUser, error) {
	email := strings.ToLower(strings.TrimSpace(u.Email))
	row := r.s.db.QueryRowContext(ctx, `
		INSERT INTO admin_users (email, password_hash, first_name, last_name, role, permissions, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+userColumns,
		email, u.PasswordHash, u.FirstName, u.LastName, u.Role, pq.StringArray(u.Permissions), u.Active)
	created, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errs.Newf(errs.KindConflict, "user with email %s already exists", email)
		}
		return nil, storageErr("create", "admin_user", err)
	}
	return created, nil
}

// GetByEmail finds a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*AdminUser, error) {
	row := r.s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM admin_users WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)))
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.KindNotFound, "user not found")
	}
	if err != nil {
		return nil, storageErr("get_by_email", "admin_user", err)
	}
	return u, nil
}

// GetByID finds a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*AdminUser, error) {
	row := r.s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM admin_users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.KindNotFound, "user not found")
	}
	if err != nil {
		return nil, storageErr("get_by_id", "admin_user", err)
	}
	return u, nil
}

// List returns users ordered by creation time.
func (r *UserRepo) List(ctx context.Context, p Pagination) ([]*AdminUser, int, error) {
	p = p.Normalize()
	var total int
	if err := r.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM admin_users`).Scan(&total); err != nil {
		return nil, 0, storageErr("list", "admin_user", err)
	}
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM admin_users ORDER BY created_at LIMIT $1 OFFSET $2`,
		p.Limit, p.Offset)
	if err != nil {
		return nil, 0, storageErr("list", "admin_user", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*AdminUser
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, storageErr("list", "admin_user", err)
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

// Update mutates profile fields, role, permissions, and active flag. Blocks
// deactivating or demoting the last active super admin.
func (r *UserRepo) Update(ctx context.Context, u *AdminUser) error {
	return r.s.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.guardLastSuperAdmin(ctx, tx, u.ID, u.Role, u.Active); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE admin_users
			SET first_name = $2, last_name = $3, role = $4, permissions = $5, active = $6, updated_at = NOW()
			WHERE id = $1`,
			u.ID, u.FirstName, u.LastName, u.Role, pq.StringArray(u.Permissions), u.Active)
		if err != nil {
			return storageErr("update", "admin_user", err)
		}
		return requireRow(res, "user not found")
	})
}

// Delete removes a user. Blocks deleting the last active super admin.
func (r *UserRepo) Delete(ctx context.Context, id int64) error {
	return r.s.withTx(ctx, func(tx *sql.Tx) error {
		if err := r.guardLastSuperAdmin(ctx, tx, id, "", false); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM admin_users WHERE id = $1`, id)
		if err != nil {
			return storageErr("delete", "admin_user", err)
		}
		return requireRow(res, "user not found")
	})
}

// guardLastSuperAdmin fails when removing, deactivating, or demoting user id
// would leave zero active super admins. The SELECT locks the remaining super
// admin rows so two concurrent removals cannot both pass the check.
func (r *UserRepo) guardLastSuperAdmin(ctx context.Context, tx *sql.Tx, id int64, newRole string, stillActive bool) error {
	var isActiveSuper bool
	err := tx.QueryRowContext(ctx,
		`SELECT role = $2 AND active FROM admin_users WHERE id = $1 FOR UPDATE`,
		id, RoleSuperAdmin).Scan(&isActiveSuper)
	if err == sql.ErrNoRows {
		return errs.New(errs.KindNotFound, "user not found")
	}
	if err != nil {
		return storageErr("guard", "admin_user", err)
	}
	if !isActiveSuper {
		return nil
	}
	if newRole == RoleSuperAdmin && stillActive {
		return nil
	}
	var others int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM admin_users WHERE role = $1 AND active AND id <> $2`,
		RoleSuperAdmin, id).Scan(&others)
	if err != nil {
		return storageErr("guard", "admin_user", err)
	}
	if others == 0 {
		return errs.New(errs.KindConflict, "cannot remove the last active super admin")
	}
	return nil
}

// UpdatePassword replaces the stored hash and clears the refresh token
// binding so outstanding refresh tokens stop working.
func (r *UserRepo) UpdatePassword(ctx context.Context, id int64, hash string) error {
	res, err := r.s.db.ExecContext(ctx,
		`UPDATE admin_users SET password_hash = $2, refresh_jti = NULL, updated_at = NOW() WHERE id = $1`,
		id, hash)
	if err != nil {
		return storageErr("update_password", "admin_user", err)
	}
	return requireRow(res, "user not found")
}

// TouchLogin records a successful login and binds the rotating refresh token.
func (r *UserRepo) TouchLogin(ctx context.Context, id int64, refreshJTI string) error {
	_, err := r.s.db.ExecContext(ctx,
		`UPDATE admin_users SET last_login_at = NOW(), refresh_jti = $2, updated_at = NOW() WHERE id = $1`,
		id, refreshJTI)
	if err != nil {
		return storageErr("touch_login", "admin_user", err)
	}
	return nil
}

// RotateRefresh atomically swaps the bound refresh token id. It succeeds only
// when oldJTI is still the bound token, enforcing single-use rotation.
func (r *UserRepo) RotateRefresh(ctx context.Context, id int64, oldJTI, newJTI string) error {
	res, err := r.s.db.ExecContext(ctx,
		`UPDATE admin_users SET refresh_jti = $3, updated_at = NOW() WHERE id = $1 AND refresh_jti = $2`,
		id, oldJTI, newJTI)
	if err != nil {
		return storageErr("rotate_refresh", "admin_user", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("rotate_refresh", "admin_user", err)
	}
	if n == 0 {
		return errs.New(errs.KindAuth, "refresh token is no longer valid")
	}
	return nil
}

// Stats returns counts by role and active flag for the dashboard.
func (r *UserRepo) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := r.s.db.QueryContext(ctx,
		`SELECT role, COUNT(*) FROM admin_users WHERE active GROUP BY role`)
	if err != nil {
		return nil, storageErr("stats", "admin_user", err)
	}
	defer func() { _ = rows.Close() }()
	out := make(map[string]int)
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, storageErr("stats", "admin_user", err)
		}
		out[role] = n
	}
	return out, rows.Err()
}

func requireRow(res sql.Result, notFoundMsg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("rows_affected", "admin_user", err)
	}
	if n == 0 {
		return errs.New(errs.KindNotFound, notFoundMsg)
	}
	return nil
}
