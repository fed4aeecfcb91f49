package reconcile

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"

	"github.com/yanun0323/errors"
)

// Signer produces the authentication headers for the REST API. The
// secret is held decoded; the signature covers timestamp, method, path
// and body.
type Signer struct {
	key        string
	passphrase string
	secret     []byte
}

// NewSigner decodes the base64 secret up front so a bad key fails fast.
func NewSigner(key, secret, passphrase string) (*Signer, error) {
	decoded, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, errors.Wrap(err, "decode rest secret")
	}
	return &Signer{key: key, passphrase: passphrase, secret: decoded}, nil
}

// Headers signs one request at the given time.
func (s *Signer) Headers(method, path, body string, now time.Time) map[string]string {
	timestamp := strconv.FormatInt(now.Unix(), 10)

	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(timestamp + method + path + body))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"CB-ACCESS-KEY":        s.key,
		"CB-ACCESS-SIGN":       signature,
		"CB-ACCESS-TIMESTAMP":  timestamp,
		"CB-ACCESS-PASSPHRASE": s.passphrase,
		"Content-Type":         "application/json",
	}
}
