package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// verifyHexHMAC reports whether signature is the hex HMAC-SHA256 of message
// under secret. Empty secrets or signatures never verify.
func verifyHexHMAC(message []byte, signature, secret string) bool {
	sig := strings.TrimSpace(signature)
	if sig == "" || secret == "" {
		return false
	}

	decoded, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}

	return hmac.Equal(signHMAC(message, secret), decoded)
}

func signHMAC(message []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return mac.Sum(nil)
}

// SignHexHMAC returns the hex HMAC-SHA256 of message, the format Coinbase and
// Mercado Pago use for webhook signatures.
func SignHexHMAC(message []byte, secret string) string {
	return hex.EncodeToString(signHMAC(message, secret))
}

// parseSignatureHeader splits "k1=v1,k2=v2" signature headers.
func parseSignatureHeader(header string) map[string]string {
	parts := make(map[string]string)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		parts[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	return parts
}
