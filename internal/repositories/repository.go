package repositories

import "context"

// Repository aggregates the per-domain repositories behind one handle.
type Repository interface {
	// Quiz domain
	Quiz() QuizRepository
	Question() QuestionRepository

	// Attempt domain
	Attempt() AttemptRepository
	Answer() AnswerRepository

	// User domain (read-only, backed by the identity provider)
	User() UserRepository

	// WithTransaction runs fn with a Repository bound to one database
	// transaction. A non-nil error from fn rolls everything back.
	WithTransaction(ctx context.Context, fn func(Repository) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connections
	Close() error
}

// RepositoryManager manages repository lifecycle.
type RepositoryManager interface {
	Initialize() error
	GetRepository() Repository
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
