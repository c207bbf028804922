package hardware

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver"
)

const (
	FIRMWARE_VERSION = ">= 7.2.0, < 8.0.0"
	DEV_VERSION      = "DEV"
)

var ErrUnverifiedFirmware = errors.New("firmware build cannot be verified")

// CheckFirmware validates a reported firmware version against constraint.
// Development builds are accepted; bare commit builds are not.
func CheckFirmware(version, constraint string) (err error) {
	if constraint == "" {
		constraint = FIRMWARE_VERSION
	}

	semVer, err := semver.NewVersion(version)
	if err != nil {
		if version == DEV_VERSION {
			// running a direct dev version
			return nil
		}
		if len(version) == 7 {
			// a commit build, assume it is unsafe
			return fmt.Errorf("%w: %s", ErrUnverifiedFirmware, version)
		}
		return fmt.Errorf("invalid firmware version %q: %v", version, err)
	}

	semVerConstraint, err := semver.NewConstraint(constraint)
	if err != nil {
		return err
	}

	if !semVerConstraint.Check(semVer) {
		return fmt.Errorf("unable to use device: received version %s - require %s", version, constraint)
	}
	return nil
}
