// Package info carries build information and the identity of this process.
package info

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var (
	Version    = "0.3.0"
	Dist       = "1"
	GitRev     = "000000"
	BuildTime  = "2000-01-01_00:00:00"
	InstanceID = uuid.New().String()
)

var ErrInvalid = errors.New("invalid version")

// String is printed by `-app version` and logged on start
func String() string {
	return fmt.Sprintf("fodb %s-%s (%s, built %s) instance %s", Version, Dist, GitRev, BuildTime, InstanceID)
}

// Stamp is the "<version>-<dist>" string written into snapshots
func Stamp() string {
	return Version + "-" + Dist
}

// SplitStamp is the inverse of Stamp
func SplitStamp(stamp string) (ver string, dist string, err error) {
	i := strings.LastIndex(stamp, "-")
	if i <= 0 || i == len(stamp)-1 {
		return "", "", ErrInvalid
	}
	return stamp[:i], stamp[i+1:], nil
}

// return A is newer than B
func IsNewerVersion(verA, distA, verB, distB string) (bool, error) {
	aa := strings.Split(verA, ".")
	bb := strings.Split(verB, ".")
	if len(aa) != 3 || len(bb) != 3 {
		return false, ErrInvalid
	}

	for i := 0; i < 3; i++ {
		a, b := parseInt64(aa[i]), parseInt64(bb[i])
		if a != b {
			return a > b, nil
		}
	}
	return parseInt64(distA) > parseInt64(distB), nil
}

func parseInt64(str string) int64 {
	res, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0
	}
	return res
}
