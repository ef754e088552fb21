package relay

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strconv"
	"time"
)

// TURNCredentials mints credentials for the TURN REST API scheme understood by
// coturn's use-auth-secret: the username carries the expiry and the password is
// base64(HMAC-SHA1(secret, username)).
func TURNCredentials(secret, label string, ttl time.Duration, now time.Time) (username, credential string) {
	username = strconv.FormatInt(now.Add(ttl).Unix(), 10)
	if label != "" {
		username += ":" + label
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(username))
	return username, base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
