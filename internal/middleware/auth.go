package middleware

import (
	"bytes"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/bryanwahyu/profile-insight/internal/logger"
)

// SignatureHeader carries the QStash JWT.
const SignatureHeader = "Upstash-Signature"

const maxWebhookBody = 1 << 20

// SignatureVerifier checks a queue signature against the raw body and the
// configured public webhook URL.
type SignatureVerifier interface {
	Verify(signature string, body []byte, webhookURL string) error
}

// WebhookSignature rejects deliveries whose signature does not match before
// any handler sees them. The body is buffered and restored for the handler.
func WebhookSignature(v SignatureVerifier, webhookURL string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logger.FromContext(r.Context())

			signature := r.Header.Get(SignatureHeader)
			if signature == "" {
				log.Warn("Webhook request missing signature")
				WriteError(w, http.StatusUnauthorized, "Missing signature", nil)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
			if err != nil {
				WriteError(w, http.StatusBadRequest, "Invalid body", nil)
				return
			}

			log.Debug("Verifying QStash signature",
				zap.String("incoming_url", r.URL.String()),
				zap.String("expected_url", webhookURL),
				zap.Bool("has_body", len(body) > 0),
			)
			if err := v.Verify(signature, body, webhookURL); err != nil {
				log.Warn("Invalid QStash signature", zap.Error(err), zap.String("expected_url", webhookURL))
				WriteError(w, http.StatusUnauthorized, "Invalid signature", nil)
				return
			}
			log.Debug("QStash signature verified successfully")

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
