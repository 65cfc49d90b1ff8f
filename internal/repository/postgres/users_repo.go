package postgres

import (
	"context"

	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type usersRepo struct{ pool *pgxpool.Pool }

func NewUsers(pool *pgxpool.Pool) repository.Users {
	return &usersRepo{pool: pool}
}

const userCols = `id, username, email, password_hash, role, referred_by, created_at, updated_at`

func scanUser(row pgx.Row) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.ReferredBy, &u.CreatedAt, &u.UpdatedAt)
	return u, mapErr(err)
}

func (r *usersRepo) Create(ctx context.Context, u models.User) (models.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return scanUser(r.pool.QueryRow(ctx,
		`INSERT INTO users(id, username, email, password_hash, role, referred_by)
		 VALUES($1,$2,$3,$4,$5,$6)
		 RETURNING `+userCols,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Role, u.ReferredBy,
	))
}

func (r *usersRepo) GetByID(ctx context.Context, id string) (models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id=$1`, id))
}

func (r *usersRepo) GetByEmail(ctx context.Context, email string) (models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE lower(email)=lower($1)`, email))
}

func (r *usersRepo) List(ctx context.Context, limit, offset int) ([]models.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+userCols+`
		   FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, mapErr(err)
	}
	return collect(rows, scanUser)
}

func (r *usersRepo) Update(ctx context.Context, u models.User) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET username=$2, email=$3, role=$4, updated_at=now() WHERE id=$1`,
		u.ID, u.Username, u.Email, u.Role,
	)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *usersRepo) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id=$1`, id)
	return mapErr(err)
}
