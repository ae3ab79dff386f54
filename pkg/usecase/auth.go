package usecase

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"

	"github.com/sprintview/sprintview/pkg/domain/interfaces"
	"github.com/sprintview/sprintview/pkg/domain/model"
	"github.com/sprintview/sprintview/pkg/domain/types"
	"github.com/sprintview/sprintview/pkg/service/gitlab"
	"github.com/sprintview/sprintview/pkg/service/seal"
)

// AuthUseCase validates personal access tokens and seals them for the
// credential cookie
type AuthUseCase struct {
	client *gitlab.Client
	sealer *seal.Sealer
}

var _ interfaces.Auth = (*AuthUseCase)(nil)

// NewAuth creates the auth use case
func NewAuth(client *gitlab.Client, sealer *seal.Sealer) *AuthUseCase {
	return &AuthUseCase{client: client, sealer: sealer}
}

// Login validates a token with a single current-user probe and seals it on
// success. The plaintext token never leaves this call except inside the
// returned sealed envelope.
func (u *AuthUseCase) Login(ctx context.Context, token string) (string, *model.User, error) {
	if token == "" {
		return "", nil, goerr.New("token is required")
	}

	cred := types.Credential(token)
	user, err := u.CurrentUser(ctx, cred)
	if err != nil {
		return "", nil, err
	}

	sealed, err := u.sealer.Seal(token)
	if err != nil {
		return "", nil, goerr.Wrap(err, "failed to seal credential")
	}

	ctxlog.From(ctx).Info("Token validated, session sealed",
		"userID", user.ID,
		"username", user.Username,
	)
	return sealed, user, nil
}

// Unseal recovers the credential from a sealed cookie value
func (u *AuthUseCase) Unseal(sealed string) (types.Credential, error) {
	plaintext, err := u.sealer.Unseal(sealed)
	if err != nil {
		return "", err
	}
	if plaintext == "" {
		return "", goerr.Wrap(model.ErrTokenFormat, "empty credential")
	}
	return types.Credential(plaintext), nil
}

// CurrentUser probes the platform's current-user endpoint. Error messages
// distinguish a rejected token from other upstream or network failures.
func (u *AuthUseCase) CurrentUser(ctx context.Context, cred types.Credential) (*model.User, error) {
	user, _, err := gitlab.GetDecoded[model.User](ctx, u.client, cred, "/api/v4/user", nil)
	if err != nil {
		var statusErr *gitlab.StatusError
		switch {
		case errors.As(err, &statusErr) &&
			(statusErr.Status == http.StatusUnauthorized || statusErr.Status == http.StatusForbidden):
			return nil, goerr.Wrap(err, "invalid token or insufficient permission")
		case errors.As(err, &statusErr):
			return nil, goerr.Wrap(err, "token validation failed (HTTP "+strconv.Itoa(statusErr.Status)+")")
		case errors.Is(err, model.ErrHostNotAllowed):
			return nil, err
		default:
			return nil, goerr.Wrap(err, "network error during validation")
		}
	}
	return &user, nil
}
