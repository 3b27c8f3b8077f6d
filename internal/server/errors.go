package server

import "errors"

var ErrTooManyConnections = errors.New("too many connection attempts")
