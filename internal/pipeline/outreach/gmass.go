package outreach

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/acem-systems/agentd/internal/pipeline/config"
	"github.com/acem-systems/agentd/internal/retry"
)

// GMassClient sends email through the GMass API.
type GMassClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	log     *zap.Logger

	FromEmail   string
	FromName    string
	TrackOpens  bool
	TrackClicks bool

	// Pause between draft creation and campaign send, letting Gmail save
	// the draft. Zero in tests.
	DraftPause time.Duration
}

// NewGMass creates a client. An empty baseURL selects the public API.
func NewGMass(cfg config.Config, baseURL string, logger *zap.Logger) *GMassClient {
	if baseURL == "" {
		baseURL = config.GMassAPIBase
	}
	return &GMassClient{
		apiKey:      cfg.GMassAPIKey,
		baseURL:     baseURL,
		http:        &http.Client{Timeout: 30 * time.Second},
		log:         logger,
		FromEmail:   cfg.GmailAddress,
		FromName:    config.GMassFromName,
		TrackOpens:  cfg.TrackOpens,
		TrackClicks: cfg.TrackClicks,
		DraftPause:  3 * time.Second,
	}
}

// Configured reports whether an API key is present.
func (g *GMassClient) Configured() bool { return g != nil && g.apiKey != "" }

func (g *GMassClient) post(ctx context.Context, url string, payload map[string]any) (int, map[string]any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("gmass: encode request: %w", err)
	}

	var status int
	var data map[string]any
	var respBody string
	// Transport failures retry; HTTP-level errors surface to the caller.
	err = retry.Do(ctx, 3, 2*time.Second, nil, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
		if err != nil {
			return retry.WrapPermanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-apikey", g.apiKey)

		resp, err := g.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		status = resp.StatusCode
		respBody = string(body)
		data = nil
		json.Unmarshal(body, &data)
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	if status != http.StatusOK {
		return status, data, fmt.Errorf("gmass: status %d: %s", status, respBody)
	}
	return status, data, nil
}

func firstString(data map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := data[k]; ok {
			switch t := v.(type) {
			case string:
				if t != "" {
					return t
				}
			case float64:
				return fmt.Sprintf("%.0f", t)
			}
		}
	}
	return ""
}

// SendTransactional sends one email via the transactional endpoint and
// returns the message id.
func (g *GMassClient) SendTransactional(ctx context.Context, to, subject, htmlBody string) (string, error) {
	if !g.Configured() {
		return "", fmt.Errorf("gmass: api key not configured")
	}

	payload := map[string]any{
		"fromEmail": g.FromEmail,
		"fromName":  g.FromName,
		"to":        to,
		"subject":   subject,
		"message":   htmlBody,
	}
	// Tracking activates when the fields are present, so they are only
	// set when enabled.
	if g.TrackOpens {
		payload["openTrack"] = true
	}
	if g.TrackClicks {
		payload["clickTrack"] = true
	}

	_, data, err := g.post(ctx, g.baseURL+"/transactional", payload)
	if err != nil {
		return "", err
	}
	g.log.Info("gmass email sent", zap.String("to", to))
	return firstString(data, "messageId", "id"), nil
}

const defaultFollowupBody = `<div style="font-family: Arial, sans-serif; font-size: 14px; line-height: 1.6; color: #333;">
Hola,<br><br>
Queria dar seguimiento a mi mensaje anterior. Se que el tiempo es limitado, pero creo que una breve conversacion podria ser valiosa.<br><br>
Tienes 15 minutos esta semana?<br><br>
Luka
</div>`

// SendWithAutoFollowup sends via the campaign API with a scheduled
// followup: a campaign draft is created first, then sent with the
// followup stage attached. A failed campaign send leaves the draft in
// place; GMass keeps it visible in Gmail for manual handling.
func (g *GMassClient) SendWithAutoFollowup(ctx context.Context, to, subject, htmlBody, followupBody string, followupDays int) (campaignID, draftID string, err error) {
	if !g.Configured() {
		return "", "", fmt.Errorf("gmass: api key not configured")
	}
	if followupDays <= 0 {
		followupDays = config.DefaultFollowupDays
	}
	if followupBody == "" {
		followupBody = defaultFollowupBody
	}

	_, draftData, err := g.post(ctx, g.baseURL+"/campaigndrafts", map[string]any{
		"subject":        subject,
		"message":        htmlBody,
		"messageType":    "html",
		"emailAddresses": to,
		"fromEmail":      g.FromEmail,
		"fromName":       g.FromName,
	})
	if err != nil {
		return "", "", fmt.Errorf("gmass: draft creation failed: %w", err)
	}
	draftID = firstString(draftData, "campaignDraftId", "draftId", "id")
	if draftID == "" {
		return "", "", fmt.Errorf("gmass: no draft id returned")
	}

	if g.DraftPause > 0 {
		select {
		case <-ctx.Done():
			return "", draftID, ctx.Err()
		case <-time.After(g.DraftPause):
		}
	}

	payload := map[string]any{
		"stageOneDays":         followupDays,
		"stageOneAction":       "r", // if no reply
		"stageOneCampaignText": followupBody,
		"stageOneThread":       "same",
	}
	if g.TrackOpens {
		payload["openTracking"] = true
	}
	if g.TrackClicks {
		payload["clickTracking"] = true
	}

	_, campaignData, err := g.post(ctx, g.baseURL+"/campaigns/"+draftID, payload)
	if err != nil {
		return "", draftID, fmt.Errorf("gmass: campaign send failed: %w", err)
	}

	g.log.Info("gmass email sent with auto-followup",
		zap.String("to", to), zap.Int("followup_days", followupDays))
	return firstString(campaignData, "campaignId", "id"), draftID, nil
}
