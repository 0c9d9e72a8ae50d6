package wire

import (
	"crypto/md5"
	"fmt"
)

// AuthDigestLen is the fixed digest width carried in an AUTH frame
// (spec §6.1).
const AuthDigestLen = 16

// AuthDigest computes the MD5 digest of "<kbname>:<password>" followed
// by the KB's 4-byte salt (spec §6.1). There is no third-party MD5
// implementation anywhere in the corpus worth preferring over stdlib for
// a fixed legacy digest like this one; this is the one intentionally
// stdlib-only corner of the wire layer (see DESIGN.md).
func AuthDigest(kbname, password string, salt [4]byte) [AuthDigestLen]byte {
	h := md5.New()
	fmt.Fprintf(h, "%s:%s", kbname, password)
	h.Write(salt[:])
	var out [AuthDigestLen]byte
	copy(out[:], h.Sum(nil))
	return out
}

// CheckAuthDigest reports whether digest matches the expected one for
// kbname/password/salt.
func CheckAuthDigest(digest [AuthDigestLen]byte, kbname, password string, salt [4]byte) bool {
	return AuthDigest(kbname, password, salt) == digest
}

// FeatureString is the space-padded ASCII feature string a backend
// returns in its post-AUTH DONE_OK frame (spec §6.1, e.g. " no-o-index ").
type FeatureString string

const (
	FeatureNone        FeatureString = " "
	FeatureNoOIndex    FeatureString = " no-o-index "
	FeatureModelFiles  FeatureString = " model-files "
)
