package hub

import "errors"

var ErrClosed = errors.New("hub closed")
