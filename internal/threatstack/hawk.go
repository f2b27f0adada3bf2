package threatstack

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// hawkCredentials identify the API user for request signing.
type hawkCredentials struct {
	ID  string
	Key string
}

// hawkHeader computes a Hawk authorization header for one request. The MAC
// covers method, request URI, host and port, so it must be recomputed for
// every URL, including continuation-token variants of the same resource.
func hawkHeader(creds hawkCredentials, ext, method, rawURL string, ts int64, nonce string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse request url: %w", err)
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https":
			port = "443"
		default:
			port = "80"
		}
	}

	uri := u.EscapedPath()
	if u.RawQuery != "" {
		uri += "?" + u.RawQuery
	}

	normalized := strings.Join([]string{
		"hawk.1.header",
		strconv.FormatInt(ts, 10),
		nonce,
		strings.ToUpper(method),
		uri,
		host,
		port,
		"", // no payload hash for GET
		ext,
	}, "\n") + "\n"

	mac := hmac.New(sha256.New, []byte(creds.Key))
	mac.Write([]byte(normalized))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	header := fmt.Sprintf(`Hawk id="%s", ts="%d", nonce="%s", ext="%s", mac="%s"`,
		creds.ID, ts, nonce, ext, sig)
	return header, nil
}

// newNonce returns a short random nonce for Hawk signing.
func newNonce() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "000000000000"
	}
	return hex.EncodeToString(b)
}
