package shared

import "errors"

// ErrTenantRequired is returned by every tenant scoped call made without one.
var ErrTenantRequired = errors.New("tenant id required")
