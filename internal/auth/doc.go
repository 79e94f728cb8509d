// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UnivExplorer Contributors

// Package auth implements the credential-authentication core: user
// registration, password verification, and bearer-token issuance.
//
// # Domain Types
//
// User should be created with NewUser, which validates the username,
// email, and password hash before the record ever reaches a repository.
// Direct struct initialization bypasses validation and may create
// invalid state.
//
// # Services
//
// Service coordinates the three operations exposed over HTTP:
//   - Register - validate input, hash the password, insert the user
//   - Login - verify credentials and mint a signed token
//   - Verify - validate a presented token and recover its claims
//
// Login and Verify deliberately collapse their failure modes into a
// single error code each so that callers cannot distinguish "unknown
// user" from "wrong password", or "expired" from "forged".
package auth
