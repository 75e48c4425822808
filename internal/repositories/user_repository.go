package repositories

import (
	"context"

	"github.com/coursehub/quiz-service/internal/models"
)

// UserFilters defines filters for user queries
type UserFilters struct {
	Query  string
	Limit  int
	Offset int
}

// UserRepository is read-only: the quiz service does not own user data,
// it reads it from the identity provider.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByIDs(ctx context.Context, ids []string) ([]*models.User, error)

	List(ctx context.Context, filters UserFilters) ([]*models.User, int64, error)

	ExistsByID(ctx context.Context, id string) (bool, error)
	HasRole(ctx context.Context, id string, role models.UserRole) (bool, error)
}
