package server

import (
	"net/http"

	gateway "github.com/dynamoworks/gateway/internal"
	"github.com/dynamoworks/gateway/internal/audit"
	"github.com/dynamoworks/gateway/internal/classifier"
)

// auditSetup is the audit-setup stage (C12): pure context population,
// no writes. Runs after the router stage has settled the final model so
// the classifier and preview extraction see the same request the
// upstream call will issue.
func (s *server) auditSetup(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := gateway.RequestContextFrom(r.Context())
		req := decodedRequestFromContext(r.Context())

		promptText := promptTextFromRequest(req)
		cls := classifier.Classify(promptText, audit.DetectSource(r.Header.Get("User-Agent")))

		rc.Audit = gateway.AuditContext{
			PromptText: promptText,
			PromptHash: audit.HashPrompt(promptText),
			Preview:    audit.ExtractPreview(promptText, 0),
			Source:     audit.DetectSource(r.Header.Get("User-Agent")),
			Category:   toGatewayClassification(cls),
			StartTime:  rc.StartTime,
		}

		next.ServeHTTP(w, r)
	})
}

func toGatewayClassification(c classifier.Classification) gateway.Classification {
	return gateway.Classification{
		Category:   c.Category,
		Confidence: c.Confidence,
		Secondary:  c.Secondary,
	}
}
