package dataplane

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dobrevit/formwaf/internal/httputil"
	"github.com/dobrevit/formwaf/internal/model"
	"github.com/dobrevit/formwaf/internal/provider"
)

// DecisionResponse is the data-plane response body.
type DecisionResponse struct {
	Action      string              `json:"action"`
	Score       float64             `json:"score"`
	Flags       []string            `json:"flags,omitempty"`
	VhostID     string              `json:"vhost_id"`
	EndpointID  string              `json:"endpoint_id"`
	ClientIP    string              `json:"client_ip,omitempty"`
	FormHash    string              `json:"form_hash,omitempty"`
	Fingerprint string              `json:"fingerprint,omitempty"`
	Reason      string              `json:"reason,omitempty"`
	SkipWAF     bool                `json:"skip_waf,omitempty"`
	SkipReason  string              `json:"skip_reason,omitempty"`
	Challenge   *provider.Challenge `json:"challenge,omitempty"`
}

// respond renders the decision: headers first, then the status and body
// for the action family.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, state *requestState, d *decision) {
	h.setWAFHeaders(w, state, d)

	resp := DecisionResponse{
		Action:      string(d.Action),
		Score:       d.Score,
		Flags:       d.Flags,
		VhostID:     state.match.VhostID,
		EndpointID:  state.match.EndpointID,
		ClientIP:    ipString(state.clientIP),
		FormHash:    state.formHash,
		Fingerprint: state.fp,
		Reason:      d.Reason,
		SkipWAF:     d.SkipWAF,
		SkipReason:  d.SkipReason,
	}

	switch d.Action {
	case model.ActionBlock:
		w.Header().Set("X-Blocked", "true")
		httputil.WriteJSON(w, h.blockStatus(state), map[string]interface{}{
			"error":  "request blocked",
			"reason": d.Reason,
		})

	case model.ActionTarpit:
		// Hold the connection, then respond as a block.
		delay := time.Duration(d.DelaySeconds * float64(time.Second))
		if delay <= 0 {
			delay = time.Duration(state.eff.TarpitSeconds) * time.Second
		}
		h.sleep(delay)
		w.Header().Set("X-Blocked", "true")
		httputil.WriteJSON(w, h.blockStatus(state), map[string]interface{}{
			"error":  "request blocked",
			"reason": d.Reason,
		})

	case model.ActionCaptcha:
		providerID := d.CaptchaProvider
		if providerID == "" {
			providerID = state.eff.CaptchaProvider
		}
		resp.Challenge = h.challengeFor(r.Context(), providerID)
		httputil.WriteJSON(w, http.StatusOK, resp)

	default:
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}

func (h *Handler) blockStatus(state *requestState) int {
	if state.eff.BlockStatus > 0 {
		return state.eff.BlockStatus
	}
	return http.StatusForbidden
}

// setWAFHeaders annotates the response for the stick-table layer in front
// of the core.
func (h *Handler) setWAFHeaders(w http.ResponseWriter, state *requestState, d *decision) {
	hdr := w.Header()
	hdr.Set("X-WAF-Form-Hash", state.formHash)
	hdr.Set("X-WAF-Spam-Score", fmt.Sprintf("%g", d.Score))
	hdr.Set("X-WAF-Spam-Flags", strings.Join(d.Flags, ","))
	hdr.Set("X-WAF-Client-IP", ipString(state.clientIP))
	hdr.Set("X-WAF-Mode", string(state.eff.Mode))
	hdr.Set("X-WAF-Vhost", state.match.VhostID)
	hdr.Set("X-WAF-Endpoint", state.match.EndpointID)
	hdr.Set("X-WAF-Submission-Fingerprint", state.fp)
	hdr.Set("X-WAF-Spam-Threshold", fmt.Sprintf("%g", state.eff.SpamScoreThreshold))
	hdr.Set("X-WAF-Hash-Rate-Threshold", strconv.Itoa(state.eff.HashRateThreshold))
	hdr.Set("X-WAF-IP-Spam-Threshold", fmt.Sprintf("%g", state.eff.IPSpamThreshold))
	hdr.Set("X-WAF-Fingerprint-Threshold", fmt.Sprintf("%g", state.eff.FingerprintThreshold))
	if state.rateLimit != nil {
		hdr.Set("X-WAF-Rate-Limit", "true")
		hdr.Set("X-WAF-Rate-Limit-Value", strconv.Itoa(state.rateLimit.RequestsPerMinute))
	}
}
