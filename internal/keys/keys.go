// Package keys derives the deterministic surrogate keys used across the
// warehouse star schema. Keys are a pure function of the natural key fields,
// so repeated full rebuilds over identical input produce identical keys.
package keys

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Surrogate returns the surrogate key for the given natural key fields:
// the MD5 hex digest of the fields joined with "-". Field order matters.
func Surrogate(fields ...string) string {
	sum := md5.Sum([]byte(strings.Join(fields, "-")))
	return hex.EncodeToString(sum[:])
}

// Channel returns the channel dimension surrogate key.
func Channel(channelName string) string {
	return Surrogate(channelName)
}

// Message returns the message fact surrogate key over the ordered
// (message identifier, channel name) tuple.
func Message(messageID int64, channelName string) string {
	return Surrogate(strconv.FormatInt(messageID, 10), channelName)
}

// Date returns the integer YYYYMMDD date dimension key.
func Date(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}
