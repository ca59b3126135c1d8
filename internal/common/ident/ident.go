// Package ident generates the prefixed IDs used by all repositories:
// {kind}_{unix-millis}_{random-lowercase-alnum}. IDs are never reused; the
// millisecond component plus ten random characters make collisions
// implausible even under concurrent creation.
package ident

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

// Kind prefixes for each entity family.
const (
	KindProject    = "proj"
	KindTask       = "task"
	KindSession    = "sess"
	KindTeamMember = "tm"
	KindMessage    = "msg"
	KindEvent      = "evt"
)

const (
	randomAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	randomLength   = 10
)

// New returns a fresh ID for the given kind prefix.
func New(kind string) string {
	return fmt.Sprintf("%s_%d_%s", kind, time.Now().UnixMilli(), randomSuffix())
}

func randomSuffix() string {
	buf := make([]byte, randomLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform is broken; fall back to a
		// time-derived suffix rather than panicking in an ID path.
		return fmt.Sprintf("%010d", time.Now().UnixNano()%1e10)
	}
	var b strings.Builder
	b.Grow(randomLength)
	for _, c := range buf {
		b.WriteByte(randomAlphabet[int(c)%len(randomAlphabet)])
	}
	return b.String()
}

// HasKind reports whether id carries the given kind prefix.
func HasKind(id, kind string) bool {
	return strings.HasPrefix(id, kind+"_")
}

// DefaultTeamMemberID returns the deterministic ID of a project's default
// worker or coordinator team member. Defaults are served from code and
// overridden by on-disk patches, so their IDs must be derivable from the
// project alone.
func DefaultTeamMemberID(projectID, role string) string {
	return fmt.Sprintf("%s_%s_%s", KindTeamMember, projectID, role)
}
