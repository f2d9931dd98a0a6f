package auth

import (
	"context"

	"github.com/splitnpay/splitnpay/internal/models"
)

// Authenticator defines the interface for authentication implementations.
// This abstraction allows swapping between different identity backends
// (password, a hosted identity provider, wallet-signature login) without
// changing the handler code.
type Authenticator interface {
	// Register creates a new user account. walletAddress may be empty;
	// settlement requires one, sign-in does not.
	Register(ctx context.Context, email, displayName, credential, walletAddress string) (*models.User, error)

	// Authenticate verifies the user's credentials and returns the user
	// if successful.
	Authenticate(ctx context.Context, email, credential string) (*models.User, error)

	// ValidateCredential checks if the credential meets the
	// implementation's requirements.
	ValidateCredential(credential string) error
}
