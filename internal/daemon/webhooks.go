package daemon

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"clipflow/internal/config"
	"clipflow/internal/logging"
	"clipflow/internal/payload"
	"clipflow/internal/records"
	"clipflow/internal/services/enhancer"
)

const maxWebhookBody = 1 << 20

// signatureHeaders is the resolution order for the enhancer webhook
// signature; the provider has used all three names across versions.
var signatureHeaders = []string{"X-Webhook-Signature", "X-Submagic-Signature", "X-Signature"}

// handleAvatarWebhook receives avatar render callbacks. Deliveries correlate
// by the callback identifier echoed from submission, with the provider job
// reference as fallback. Unknown references acknowledge with 200 so the
// provider stops retrying deliveries for records that were already settled
// or deleted.
func (s *apiServer) handleAvatarWebhook(w http.ResponseWriter, r *http.Request) {
	family := r.PathValue("family")
	if !config.ValidFamily(family) {
		writeError(w, http.StatusNotFound, "unknown family")
		return
	}

	var body struct {
		EventType string `json:"event_type"`
		EventData struct {
			VideoID    string `json:"video_id"`
			URL        string `json:"url"`
			CallbackID string `json:"callback_id"`
			Msg        string `json:"msg"`
		} `json:"event_data"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook body")
		return
	}

	record, found := s.correlateAvatar(r, body.EventData.CallbackID, body.EventData.VideoID)
	if !found {
		s.logger.Warn("avatar webhook for unknown record",
			logging.String("callback_id", body.EventData.CallbackID),
			logging.String("job_id", body.EventData.VideoID))
		writeJSON(w, http.StatusOK, map[string]string{"result": "ignored"})
		return
	}

	ctx := r.Context()
	switch body.EventType {
	case "avatar_video.success":
		if err := s.daemon.pipeline.OnAvatarComplete(ctx, record, body.EventData.URL); err != nil {
			// The record keeps its state; the reconciler retries from the
			// provider's still-valid completion.
			s.logger.Warn("advance from avatar webhook", logging.Error(err))
		}
	case "avatar_video.fail":
		reason := body.EventData.Msg
		if reason == "" {
			reason = "avatar render failed"
		}
		s.daemon.pipeline.OnAvatarFailed(ctx, record, reason)
	default:
		s.logger.Debug("ignoring avatar webhook event",
			logging.String("event_type", body.EventType))
	}

	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (s *apiServer) correlateAvatar(r *http.Request, callbackID, jobID string) (*records.Record, bool) {
	ctx := r.Context()
	if callbackID != "" {
		if record, err := s.daemon.store.GetByID(ctx, callbackID); err == nil {
			return record, true
		} else if !errors.Is(err, records.ErrNotFound) {
			s.logger.Error("lookup record by callback id", logging.Error(err))
		}
	}
	if jobID != "" {
		if record, err := s.daemon.store.FindByAvatarJobID(ctx, jobID); err == nil {
			return record, true
		} else if !errors.Is(err, records.ErrNotFound) {
			s.logger.Error("lookup record by job id", logging.Error(err))
		}
	}
	return nil, false
}

// handleEnhancerWebhook receives enhancement callbacks for both provider
// phases: composition complete (no download URL, triggers the export) and
// render complete (download URL present, advances to posting).
func (s *apiServer) handleEnhancerWebhook(w http.ResponseWriter, r *http.Request) {
	family := r.PathValue("family")
	if !config.ValidFamily(family) {
		writeError(w, http.StatusNotFound, "unknown family")
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read webhook body")
		return
	}

	if secret := s.daemon.cfg.Enhancer.WebhookSecret; secret != "" {
		signature, _ := payload.FirstHeader(r.Header, signatureHeaders...)
		if !verifySignature(raw, signature, secret) {
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook body")
		return
	}

	projectID, ok := payload.FirstString(body, "projectId", "id", "project_id")
	if !ok {
		s.logger.Warn("enhancer webhook without project reference")
		writeJSON(w, http.StatusOK, map[string]string{"result": "ignored"})
		return
	}

	record, err := s.daemon.store.FindByEnhancerProjectID(r.Context(), projectID)
	if errors.Is(err, records.ErrNotFound) {
		s.logger.Warn("enhancer webhook for unknown record", logging.String("project_id", projectID))
		writeJSON(w, http.StatusOK, map[string]string{"result": "ignored"})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	state, _ := payload.FirstString(body, "status", "state")
	downloadURL, _ := payload.FirstString(body, enhancer.DownloadURLKeys...)
	status := enhancer.ProjectStatus{State: state, DownloadURL: downloadURL}

	ctx := r.Context()
	switch {
	case status.Failed():
		reason, _ := payload.FirstString(body, "error", "message")
		s.daemon.pipeline.OnEnhancerFailed(ctx, record, reason)
	case status.Composed():
		if err := s.daemon.pipeline.OnEnhancerComplete(ctx, record, downloadURL); err != nil {
			s.logger.Warn("advance from enhancer webhook", logging.Error(err))
		}
	default:
		s.logger.Debug("ignoring enhancer webhook state", logging.String("state", state))
	}

	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

// verifySignature accepts either a hex HMAC-SHA256 of the body (optionally
// prefixed "sha256=") or, for older provider configurations, the shared
// secret itself.
func verifySignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	provided, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err == nil && hmac.Equal(provided, expected) {
		return true
	}

	return subtleCompare(signature, secret)
}

func subtleCompare(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
