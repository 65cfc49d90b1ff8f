package postgres

import (
	"time"

	repo "github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repositories struct {
	Users  repo.Users
	Store  repo.Store
	Outbox repo.Outbox
}

func NewRepositories(pool *pgxpool.Pool, lockTimeout time.Duration) Repositories {
	return Repositories{
		Users:  NewUsers(pool),
		Store:  NewStore(pool, lockTimeout),
		Outbox: NewOutbox(pool),
	}
}
