//go:build !linux

package onboard

import "errors"

func enterRealtime() (func(), error) {
	return nil, errors.New("realtime mode is only supported on linux")
}
