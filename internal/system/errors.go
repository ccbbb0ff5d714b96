package system

import "errors"

var errUnsupported = errors.New("disk space query not supported on this platform")
