package lls

import "errors"

var errInvalidAddr = errors.New("lls: malformed address in neighbor advertisement")
