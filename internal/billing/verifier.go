package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/heymatch/heymatch-api/internal/apperr"
)

// Verifier checks the authenticity of a provider's asynchronous settlement
// notification.
type Verifier interface {
	Verify(method string, payload []byte, signature string) error
}

// HMACVerifier validates hex-encoded HMAC-SHA256 signatures with a shared
// secret per payment method.
type HMACVerifier struct {
	secrets map[string][]byte
}

func NewHMACVerifier(secrets map[string]string) *HMACVerifier {
	v := &HMACVerifier{secrets: make(map[string][]byte, len(secrets))}
	for method, secret := range secrets {
		v.secrets[method] = []byte(secret)
	}
	return v
}

func errVerifyFailed(msg string) *apperr.Error {
	return apperr.New(apperr.KindPaymentVerifyFailed, msg)
}

func (v *HMACVerifier) Verify(method string, payload []byte, signature string) error {
	secret, ok := v.secrets[method]
	if !ok {
		return errVerifyFailed("unknown payment method")
	}
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return errVerifyFailed("malformed signature")
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return errVerifyFailed("signature mismatch")
	}
	return nil
}

// Methods lists the configured payment methods.
func (v *HMACVerifier) Methods() []string {
	out := make([]string, 0, len(v.secrets))
	for method := range v.secrets {
		out = append(out, method)
	}
	return out
}
