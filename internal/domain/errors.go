package domain

import "errors"

// ErrNoTransaction is returned when a persistence call is issued outside an
// open transactional scope.
var ErrNoTransaction = errors.New("no open transaction")
