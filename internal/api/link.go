package api

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

const linkTokenLen = 10

// LinkToken returns the token appended to merge URLs: the first 10 hex
// characters of md5(decimal(recordID*multiplier) + secret). It keeps record
// ids from being enumerated. It does not authorize anything.
func LinkToken(recordID, multiplier int64, secret string) string {
	sum := md5.Sum([]byte(strconv.FormatInt(recordID*multiplier, 10) + secret))
	return hex.EncodeToString(sum[:])[:linkTokenLen]
}

// LinkSigner issues and checks link tokens.
type LinkSigner struct {
	Multiplier int64
	Secret     string
}

func (s LinkSigner) Token(recordID int64) string {
	return LinkToken(recordID, s.Multiplier, s.Secret)
}

func (s LinkSigner) Verify(recordID int64, token string) bool {
	want := s.Token(recordID)
	return subtle.ConstantTimeCompare([]byte(token), []byte(want)) == 1
}

// URL returns the merge URL of recordID under base.
func (s LinkSigner) URL(base string, recordID int64) string {
	return fmt.Sprintf("%s/merge/%d?token=%s", strings.TrimRight(base, "/"), recordID, s.Token(recordID))
}
