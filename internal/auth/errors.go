// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 UnivExplorer Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateUser is returned when an insert collides with an existing
// username or email. Repositories map store-level unique violations to
// this error so concurrent registrations resolve deterministically.
var ErrDuplicateUser = errors.New("duplicate user")
