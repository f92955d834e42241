package shared

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// CSRFHeader carries the token on state-changing requests.
const CSRFHeader = "X-CSRF-Token"

// CSRFManager issues and verifies CSRF tokens bound to a console context.
type CSRFManager struct {
	secret []byte
}

// NewCSRFManager returns a CSRFManager using the provided secret key.
func NewCSRFManager(secret string) *CSRFManager {
	return &CSRFManager{secret: []byte(secret)}
}

// Token returns the token for contextID. It is stable for the context's life.
func (m *CSRFManager) Token(contextID string) string {
	mac := hmac.New(sha256.New, m.secret)
	_, _ = mac.Write([]byte("ledgerdesk-csrf|"))
	_, _ = mac.Write([]byte(contextID))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify compares the supplied token with the one issued for contextID.
func (m *CSRFManager) Verify(contextID, token string) error {
	if token == "" {
		return ErrCSRFTokenMissing
	}
	if !hmac.Equal([]byte(m.Token(contextID)), []byte(token)) {
		return ErrCSRFTokenMismatch
	}
	return nil
}
