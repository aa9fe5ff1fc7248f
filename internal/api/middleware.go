package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/perimeterlab/botshield-engine/internal/engine"
	"github.com/perimeterlab/botshield-engine/pkg/models"
)

// EvidenceKey is the gin context key the detection middleware stores its
// verdict under. Downstream handlers read it with EvidenceFrom.
const EvidenceKey = "botshield.evidence"

// EvidenceFrom returns the verdict attached by the Detect middleware.
func EvidenceFrom(c *gin.Context) (*models.Evidence, bool) {
	v, ok := c.Get(EvidenceKey)
	if !ok {
		return nil, false
	}
	ev, ok := v.(*models.Evidence)
	return ev, ok
}

// Detect is the evaluation middleware: it builds the request fingerprint,
// runs the pipeline, attaches the evidence to the gin context, and stamps
// the advisory X-Bot-* response headers. It never rejects a request
// itself; enforcement is Enforce's job, or the caller's.
func Detect(e *engine.Engine, demoMode bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		fp := FingerprintFromRequest(c)
		ev := e.Evaluate(c.Request.Context(), fp)

		c.Set(EvidenceKey, ev)

		c.Header("X-Bot-Detected", fmt.Sprintf("%t", ev.IsBot))
		c.Header("X-Bot-Probability", fmt.Sprintf("%.3f", ev.BotProbability))
		c.Header("X-Bot-Confidence", fmt.Sprintf("%.3f", ev.Confidence))
		c.Header("X-Bot-Risk-Band", ev.RiskBand.String())
		c.Header("X-Bot-Action", ev.RecommendedAction.String())
		c.Header("X-Bot-Processing-Ms", fmt.Sprintf("%d", ev.ProcessingMs))
		if ev.IsBot {
			c.Header("X-Bot-Type", string(ev.BotType))
			if ev.BotName != "" {
				c.Header("X-Bot-Name", ev.BotName)
			}
			if ev.PolicyName != "" {
				c.Header("X-Bot-Policy", ev.PolicyName)
			}
		}

		if demoMode {
			// per-detector evidence for the demo dashboard; never enable in
			// production, it hands bot authors the scoring rubric
			c.Header("X-Bot-Signature", ev.PrimarySignature)
			if contribs, err := json.Marshal(ev.Contributions); err == nil {
				c.Header("X-Bot-Contributions", string(contribs))
			}
		}

		c.Next()
	}
}

// Enforce turns the recommended action into an HTTP response: Block and
// Redirect reject, Throttle asks the client to back off, everything else
// passes through. Deployments wanting challenge pages wire their own
// handler off the evidence instead.
func Enforce(redirectURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ev, ok := EvidenceFrom(c)
		if !ok {
			c.Next()
			return
		}

		switch ev.RecommendedAction {
		case models.ActionBlock:
			c.JSON(http.StatusForbidden, gin.H{"error": "request rejected"})
			c.Abort()
		case models.ActionThrottle:
			c.Header("Retry-After", "30")
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "slow down"})
			c.Abort()
		case models.ActionRedirect:
			if redirectURL != "" {
				c.Redirect(http.StatusFound, redirectURL)
				c.Abort()
				return
			}
			c.Next()
		default:
			c.Next()
		}
	}
}

// FingerprintFromRequest derives the pipeline input from a live request.
func FingerprintFromRequest(c *gin.Context) *models.Fingerprint {
	r := c.Request

	fp := &models.Fingerprint{
		Method:    r.Method,
		Path:      r.URL.Path,
		UserAgent: r.UserAgent(),
		RemoteIP:  c.ClientIP(),
		Headers:   collectHeaders(r),
	}

	if r.TLS != nil {
		fp.TLS = &models.TLSMetadata{
			Version:     r.TLS.Version,
			CipherSuite: r.TLS.CipherSuite,
			ALPN:        r.TLS.NegotiatedProtocol,
		}
		// JA3/JA4 digests arrive from the terminating proxy when present
		if ja3 := r.Header.Get("X-TLS-JA3"); ja3 != "" {
			fp.TLS.JA3 = strings.ToLower(ja3)
		}
		if ja4 := r.Header.Get("X-TLS-JA4"); ja4 != "" {
			fp.TLS.JA4 = strings.ToLower(ja4)
		}
	}

	if r.ProtoMajor == 2 {
		fp.HTTP2 = &models.HTTP2Metadata{}
		// net/http does not surface the preface; a fronting capture layer
		// forwards it as JSON when available
		if raw := r.Header.Get("X-H2-Preface"); raw != "" {
			var meta models.HTTP2Metadata
			if err := json.Unmarshal([]byte(raw), &meta); err == nil {
				fp.HTTP2 = &meta
			}
		}
	}

	if raw := r.Header.Get("X-Client-Bundle"); raw != "" {
		var bundle map[string]string
		if err := json.Unmarshal([]byte(raw), &bundle); err == nil {
			fp.ClientBundle = bundle
		}
	}
	return fp
}

func collectHeaders(r *http.Request) []models.HeaderField {
	out := make([]models.HeaderField, 0, len(r.Header))
	for name, values := range r.Header {
		if len(values) == 0 {
			continue
		}
		out = append(out, models.HeaderField{Name: name, Value: values[0]})
	}
	return out
}
