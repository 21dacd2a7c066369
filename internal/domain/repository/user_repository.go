package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wra13107/digital-memorial-landing/internal/common"
	"github.com/wra13107/digital-memorial-landing/internal/domain/model"
	"github.com/wra13107/digital-memorial-landing/internal/platform/database"

	"github.com/jackc/pgx/v5/pgconn"
)

// UserRepository is the user-record store. Lookups return common.ErrNotFound
// when no row matches.
type UserRepository interface {
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	ListUsers(ctx context.Context) ([]*model.User, error)

	CreateLocalUser(ctx context.Context, in model.NewLocalUser) (*model.User, error)
	UpdateUser(ctx context.Context, id int64, upd model.UserUpdate) error
	UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error
	TouchLastSignedIn(ctx context.Context, id int64, at time.Time) error
	DeleteUserAccount(ctx context.Context, id int64) error

	// SetToken stores a token digest for purpose, replacing any pending one.
	SetToken(ctx context.Context, purpose model.TokenPurpose, userID int64, digest string, expiry time.Time) error
	GetUserByToken(ctx context.Context, purpose model.TokenPurpose, digest string) (*model.User, error)
	ClearToken(ctx context.Context, purpose model.TokenPurpose, userID int64) error
	// ClaimToken clears a pending, unexpired token matching digest and returns
	// its owner. It fails with common.ErrTokenInvalidOrExpired and changes
	// nothing when no such token exists. At most one caller can claim a token.
	ClaimToken(ctx context.Context, purpose model.TokenPurpose, digest string, now time.Time) (int64, error)
	MarkEmailAsVerified(ctx context.Context, userID int64) error
	PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error)

	// WithTx runs fn against a repository bound to a single transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context, repo UserRepository) error) error
}

const userColumns = `id, email, username, password_hash, login_method, role, name,
	first_name, last_name, patronymic, birth_date, death_date, email_verified,
	email_verification_token, email_verification_expiry,
	password_reset_token, password_reset_expiry,
	created_at, updated_at, last_signed_in`

type pgUserRepository struct {
	db   database.DBTX
	conn *sql.DB // nil inside a transaction
}

func NewPgUserRepository(db *sql.DB) UserRepository {
	return &pgUserRepository{db: db, conn: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	var role string
	err := row.Scan(
		&user.ID, &user.Email, &user.Username, &user.PasswordHash, &user.LoginMethod, &role, &user.Name,
		&user.FirstName, &user.LastName, &user.Patronymic, &user.BirthDate, &user.DeathDate, &user.EmailVerified,
		&user.EmailVerificationToken, &user.EmailVerificationExpiry,
		&user.PasswordResetToken, &user.PasswordResetExpiry,
		&user.CreatedAt, &user.UpdatedAt, &user.LastSignedIn,
	)
	if err != nil {
		return nil, err
	}
	user.Role = model.Role(role)
	return user, nil
}

func (r *pgUserRepository) getOne(ctx context.Context, op, where string, arg any) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	user, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("pgUserRepository.%s: %w", op, err)
	}
	return user, nil
}

func (r *pgUserRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getOne(ctx, "GetUserByEmail", "email = $1", email)
}

func (r *pgUserRepository) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.getOne(ctx, "GetUserByUsername", "username = $1", username)
}

func (r *pgUserRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return r.getOne(ctx, "GetUserByID", "id = $1", id)
}

func (r *pgUserRepository) ListUsers(ctx context.Context) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("pgUserRepository.ListUsers: %w", err)
	}
	defer rows.Close()

	users := make([]*model.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("pgUserRepository.ListUsers scan: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgUserRepository.ListUsers rows: %w", err)
	}
	return users, nil
}

func (r *pgUserRepository) CreateLocalUser(ctx context.Context, in model.NewLocalUser) (*model.User, error) {
	role := in.Role
	if role == "" {
		role = model.DefaultRole
	}
	query := `INSERT INTO users (email, username, password_hash, login_method, role, name,
	              first_name, last_name, patronymic, birth_date, death_date)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	          RETURNING ` + userColumns
	user, err := scanUser(r.db.QueryRowContext(ctx, query,
		in.Email, in.Username, in.PasswordHash, model.LoginMethodLocal, string(role),
		model.DisplayName(in.FirstName, in.LastName),
		in.FirstName, in.LastName, in.Patronymic, in.BirthDate, in.DeathDate,
	))
	if err != nil {
		if conflict := uniqueViolation(err); conflict != nil {
			return nil, conflict
		}
		return nil, fmt.Errorf("pgUserRepository.CreateLocalUser: %w", err)
	}
	return user, nil
}

func (r *pgUserRepository) UpdateUser(ctx context.Context, id int64, upd model.UserUpdate) error {
	if upd.Empty() {
		return nil
	}

	sets := make([]string, 0, 10)
	args := make([]any, 0, 10)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if upd.Name != nil {
		set("name", *upd.Name)
	}
	if upd.Email != nil {
		set("email", *upd.Email)
	}
	if upd.Username != nil {
		set("username", *upd.Username)
	}
	if upd.Role != nil {
		set("role", string(*upd.Role))
	}
	if upd.FirstName != nil {
		set("first_name", *upd.FirstName)
	}
	if upd.LastName != nil {
		set("last_name", *upd.LastName)
	}
	if upd.Patronymic != nil {
		set("patronymic", *upd.Patronymic)
	}
	switch {
	case upd.ClearBirthDate:
		sets = append(sets, "birth_date = NULL")
	case upd.BirthDate != nil:
		set("birth_date", *upd.BirthDate)
	}
	switch {
	case upd.ClearDeathDate:
		sets = append(sets, "death_date = NULL")
	case upd.DeathDate != nil:
		set("death_date", *upd.DeathDate)
	}
	sets = append(sets, "updated_at = now()")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE users SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if conflict := uniqueViolation(err); conflict != nil {
			return conflict
		}
		return fmt.Errorf("pgUserRepository.UpdateUser: %w", err)
	}
	return requireRow(res, "UpdateUser")
}

func (r *pgUserRepository) UpdateUserPassword(ctx context.Context, id int64, passwordHash string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $1, updated_at = now() WHERE id = $2`, passwordHash, id)
	if err != nil {
		return fmt.Errorf("pgUserRepository.UpdateUserPassword: %w", err)
	}
	return requireRow(res, "UpdateUserPassword")
}

func (r *pgUserRepository) TouchLastSignedIn(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_signed_in = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("pgUserRepository.TouchLastSignedIn: %w", err)
	}
	return nil
}

// DeleteUserAccount removes the user row. Tables owning user content reference it ON DELETE CASCADE.
func (r *pgUserRepository) DeleteUserAccount(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("pgUserRepository.DeleteUserAccount: %w", err)
	}
	return requireRow(res, "DeleteUserAccount")
}

func (r *pgUserRepository) SetToken(ctx context.Context, purpose model.TokenPurpose, userID int64, digest string, expiry time.Time) error {
	tokenCol, expiryCol, err := tokenColumns(purpose)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE users SET %s = $1, %s = $2, updated_at = now() WHERE id = $3`, tokenCol, expiryCol)
	res, err := r.db.ExecContext(ctx, query, digest, expiry, userID)
	if err != nil {
		return fmt.Errorf("pgUserRepository.SetToken(%s): %w", purpose, err)
	}
	return requireRow(res, "SetToken")
}

func (r *pgUserRepository) GetUserByToken(ctx context.Context, purpose model.TokenPurpose, digest string) (*model.User, error) {
	tokenCol, _, err := tokenColumns(purpose)
	if err != nil {
		return nil, err
	}
	return r.getOne(ctx, "GetUserByToken", tokenCol+" = $1", digest)
}

func (r *pgUserRepository) ClearToken(ctx context.Context, purpose model.TokenPurpose, userID int64) error {
	tokenCol, expiryCol, err := tokenColumns(purpose)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE users SET %s = NULL, %s = NULL, updated_at = now() WHERE id = $1`, tokenCol, expiryCol)
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("pgUserRepository.ClearToken(%s): %w", purpose, err)
	}
	return nil
}

func (r *pgUserRepository) ClaimToken(ctx context.Context, purpose model.TokenPurpose, digest string, now time.Time) (int64, error) {
	tokenCol, expiryCol, err := tokenColumns(purpose)
	if err != nil {
		return 0, err
	}
	// The row lock taken by UPDATE makes a concurrent claim wait, then see NULL.
	query := fmt.Sprintf(`UPDATE users SET %[1]s = NULL, %[2]s = NULL, updated_at = now()
	          WHERE %[1]s = $1 AND %[2]s > $2
	          RETURNING id`, tokenCol, expiryCol)
	var id int64
	if err := r.db.QueryRowContext(ctx, query, digest, now).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrTokenInvalidOrExpired
		}
		return 0, fmt.Errorf("pgUserRepository.ClaimToken(%s): %w", purpose, err)
	}
	return id, nil
}

func (r *pgUserRepository) MarkEmailAsVerified(ctx context.Context, userID int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET email_verified = TRUE, updated_at = now() WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("pgUserRepository.MarkEmailAsVerified: %w", err)
	}
	return requireRow(res, "MarkEmailAsVerified")
}

func (r *pgUserRepository) PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	for _, purpose := range []model.TokenPurpose{model.PurposeEmailVerification, model.PurposePasswordReset} {
		tokenCol, expiryCol, _ := tokenColumns(purpose)
		query := fmt.Sprintf(`UPDATE users SET %[1]s = NULL, %[2]s = NULL
		          WHERE %[1]s IS NOT NULL AND %[2]s <= $1`, tokenCol, expiryCol)
		res, err := r.db.ExecContext(ctx, query, now)
		if err != nil {
			return total, fmt.Errorf("pgUserRepository.PurgeExpiredTokens(%s): %w", purpose, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (r *pgUserRepository) WithTx(ctx context.Context, fn func(ctx context.Context, repo UserRepository) error) error {
	if r.conn == nil {
		return fn(ctx, r)
	}
	return database.WithTx(ctx, r.conn, nil, func(ctx context.Context, tx database.DBTX) error {
		return fn(ctx, &pgUserRepository{db: tx})
	})
}

func tokenColumns(purpose model.TokenPurpose) (tokenCol, expiryCol string, err error) {
	switch purpose {
	case model.PurposeEmailVerification:
		return "email_verification_token", "email_verification_expiry", nil
	case model.PurposePasswordReset:
		return "password_reset_token", "password_reset_expiry", nil
	}
	return "", "", fmt.Errorf("unknown token purpose %q", purpose)
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("pgUserRepository.%s rows affected: %w", op, err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func uniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil
	}
	switch pgErr.ConstraintName {
	case "users_email_key":
		return common.ErrEmailTaken
	case "users_username_key":
		return common.ErrUsernameTaken
	}
	return fmt.Errorf("user already exists: %w", common.ErrConflict)
}
