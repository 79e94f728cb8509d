// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UnivExplorer Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"

	"github.com/univexplorer/authd/pkg/errutil"
)

// dummyPassword feeds the constructor-time dummy hash. The hash is
// recomputed with the configured hasher so that the comparison made
// for unknown usernames costs the same as one against a stored hash.
const dummyPassword = "authd-timing-equalizer"

// Service provides the Register, Login, and Verify operations.
type Service struct {
	users  UserRepository
	hasher PasswordHasher
	tokens *TokenIssuer
	logger *slog.Logger

	// dummyHash is compared against when a login names an unknown
	// user, keeping the error path and response time indistinguishable
	// from a wrong password. It never matches a client password.
	dummyHash string
}

// NewService creates a Service. All dependencies are required.
func NewService(users UserRepository, hasher PasswordHasher, tokens *TokenIssuer) (*Service, error) {
	return NewServiceWithLogger(users, hasher, tokens, slog.Default())
}

// NewServiceWithLogger creates a Service with an explicit logger.
func NewServiceWithLogger(users UserRepository, hasher PasswordHasher, tokens *TokenIssuer, logger *slog.Logger) (*Service, error) {
	if users == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("users repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("password hasher is required")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("token issuer is required")
	}
	if logger == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("logger is required")
	}

	dummyHash, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").
			With("operation", "compute dummy hash").
			Wrap(err)
	}

	return &Service{
		users:     users,
		hasher:    hasher,
		tokens:    tokens,
		logger:    logger,
		dummyHash: dummyHash,
	}, nil
}

// Register validates the input, hashes the password, and inserts a new
// user. A collision on username or email yields AUTH_DUPLICATE_USER
// without revealing which field collided. The returned User carries no
// secrets beyond the hash; transport layers must not echo the hash.
func (s *Service) Register(ctx context.Context, username, email, password string) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, ErrEmptyPassword
	}

	exists, err := s.users.ExistsByUsernameOrEmail(ctx, username, email)
	if err != nil {
		return nil, oops.Code("AUTH_STORE_UNAVAILABLE").
			With("operation", "check existing user").
			Wrap(err)
	}
	if exists {
		return nil, s.duplicateUserError(ctx, username)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user, err := NewUser(username, email, hash)
	if err != nil {
		return nil, err
	}

	if err := s.users.Create(ctx, user); err != nil {
		// The pre-check races against concurrent registrations; the
		// store's unique indexes are the arbiter, and a lost race maps
		// to the same duplicate error as the pre-check.
		if errors.Is(err, ErrDuplicateUser) {
			return nil, s.duplicateUserError(ctx, username)
		}
		return nil, oops.Code("AUTH_STORE_UNAVAILABLE").
			With("operation", "insert user").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "user registered", "username", user.Username)
	return user, nil
}

// Login verifies the credentials and returns a signed bearer token.
// Unknown usernames and wrong passwords produce the identical
// AUTH_INVALID_CREDENTIALS error, and the unknown-user path still
// performs a full-cost hash comparison against a dummy hash.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", oops.Code("AUTH_VALIDATION_FAILED").Errorf("username and password are required")
	}

	user, lookupErr := s.users.GetByUsername(ctx, username)

	targetHash := s.dummyHash
	userExists := false
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return "", oops.Code("AUTH_STORE_UNAVAILABLE").
				With("operation", "get user by username").
				Wrap(lookupErr)
		}
	} else {
		targetHash = user.PasswordHash
		userExists = true
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if !userExists {
			return "", s.invalidCredentialsError(ctx, username, "unknown user")
		}
		return "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}

	if !userExists || !valid {
		reason := "wrong password"
		if !userExists {
			reason = "unknown user"
		}
		return "", s.invalidCredentialsError(ctx, username, reason)
	}

	token, err := s.tokens.Issue(user.Username, user.Email)
	if err != nil {
		return "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "issue token").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "user logged in", "username", user.Username)
	return token, nil
}

// VerifyToken validates a presented bearer token and returns its
// claims. No store lookup happens here: a deleted user's token stays
// valid until it expires. Failures share the AUTH_INVALID_TOKEN code;
// the underlying cause is logged server-side only.
func (s *Service) VerifyToken(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		errutil.LogError(s.logger, "token rejected", err)
		return nil, err
	}
	return claims, nil
}

func (s *Service) duplicateUserError(ctx context.Context, username string) error {
	s.logger.WarnContext(ctx, "registration conflict", "username", username)
	return oops.Code("AUTH_DUPLICATE_USER").Errorf("username or email is already registered")
}

func (s *Service) invalidCredentialsError(ctx context.Context, username, reason string) error {
	// The reason stays in the server log; the returned error is the
	// same for every failure mode.
	s.logger.WarnContext(ctx, "login rejected", "username", username, "reason", reason)
	return oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid username or password")
}
