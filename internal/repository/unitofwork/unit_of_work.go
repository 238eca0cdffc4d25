package unitofwork

import (
	"context"

	"curriculum-qa-be/internal/repository/contract"
)

// UnitOfWork groups chunk store writes into one transaction. Without Begin
// the repositories run directly on the connection.
type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	ChunkRepository() contract.ChunkRepository
}
