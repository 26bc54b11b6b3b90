package id

import "errors"

var errShortID = errors.New("id: hex string does not decode to a 64-byte identifier")
