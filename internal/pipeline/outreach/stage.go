package outreach

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/acem-systems/agentd/internal/pipeline/config"
	"github.com/acem-systems/agentd/internal/pipeline/store"
)

// Transport delivers one composed email and returns a provider message id
// when the API exposes one.
type Transport interface {
	Deliver(ctx context.Context, to, subject, htmlBody string) (messageID string, err error)
	Name() string
}

type gmassTransport struct{ client *GMassClient }

func (t gmassTransport) Deliver(ctx context.Context, to, subject, htmlBody string) (string, error) {
	return t.client.SendTransactional(ctx, to, subject, htmlBody)
}

func (t gmassTransport) Name() string { return "gmass" }

type smtpTransport struct{ mailer *Mailer }

func (t smtpTransport) Deliver(_ context.Context, to, subject, htmlBody string) (string, error) {
	return "", t.mailer.Send(to, subject, htmlBody, "")
}

func (t smtpTransport) Name() string { return "smtp" }

// NewTransport selects the configured outreach transport.
func NewTransport(cfg config.Config, logger *zap.Logger) (Transport, error) {
	switch cfg.OutreachTransport {
	case "smtp":
		return smtpTransport{mailer: NewMailer(cfg, logger)}, nil
	case "", "gmass":
		return gmassTransport{client: NewGMass(cfg, "", logger)}, nil
	default:
		return nil, fmt.Errorf("outreach: unknown transport %q", cfg.OutreachTransport)
	}
}

// Sender runs the outreach stages: initial sends and followups.
type Sender struct {
	Composer  *Composer
	Transport Transport
	Logger    *zap.Logger

	FollowupDays int

	// Delay between sends. Zero in tests.
	Delay time.Duration
}

// NewSender wires the sender from configuration.
func NewSender(cfg config.Config, logger *zap.Logger) (*Sender, error) {
	transport, err := NewTransport(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Sender{
		Composer:     NewComposer(cfg, logger),
		Transport:    transport,
		Logger:       logger,
		FollowupDays: cfg.FollowupDays,
		Delay:        config.AIRequestDelay,
	}, nil
}

// Run sends a personalized initial email to every report-delivered lead
// that has not been contacted yet. Returns the number of emails sent.
func (s *Sender) Run(ctx context.Context, st *store.Store, limit int) (int, error) {
	leads, err := st.LeadsForOutreach(limit)
	if err != nil {
		return 0, err
	}
	if len(leads) == 0 {
		s.Logger.Info("no leads ready for outreach")
		return 0, nil
	}

	s.Logger.Info("outreach starting",
		zap.Int("leads", len(leads)), zap.String("transport", s.Transport.Name()))
	sent := 0

	for _, lead := range leads {
		if lead.Email == "" {
			s.Logger.Warn("outreach lead without email", zap.String("company", lead.CompanyName))
			continue
		}

		content := s.Composer.Compose(ctx, InputFromLead(lead), KindInitial)
		messageID, err := s.Transport.Deliver(ctx, lead.Email, content.Subject, content.HTMLBody)
		if err != nil {
			s.Logger.Error("outreach send failed",
				zap.String("company", lead.CompanyName), zap.Error(err))
			s.pause(ctx)
			continue
		}

		if _, err := st.InsertOutreach(lead.ID, lead.Email, content.Subject, content.Body, store.OutreachInitial, messageID); err != nil {
			s.Logger.Error("record outreach failed", zap.Int64("lead", lead.ID), zap.Error(err))
		} else {
			sent++
		}
		s.pause(ctx)
	}

	s.Logger.Info("outreach complete", zap.Int("sent", sent), zap.Int("total", len(leads)))
	return sent, nil
}

// Followups sends a threaded followup for every initial outreach that got
// no reply within the followup window. Returns the number sent.
func (s *Sender) Followups(ctx context.Context, st *store.Store) (int, error) {
	candidates, err := st.OutreachNeedingFollowup(s.FollowupDays)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		s.Logger.Info("no outreach needs a followup",
			zap.Int("followup_days", s.FollowupDays))
		return 0, nil
	}

	s.Logger.Info("followups starting", zap.Int("candidates", len(candidates)))
	sent := 0

	for _, cand := range candidates {
		content := s.Composer.Compose(ctx, InputFromFollowup(cand), KindFollowup)

		// Re: prefix keeps the followup in the original thread.
		subject := content.Subject
		if cand.Subject != "" {
			subject = "Re: " + cand.Subject
		}

		messageID, err := s.Transport.Deliver(ctx, cand.EmailTo, subject, content.HTMLBody)
		if err != nil {
			s.Logger.Error("followup send failed",
				zap.String("company", cand.CompanyName), zap.Error(err))
			s.pause(ctx)
			continue
		}

		if _, err := st.InsertOutreach(cand.LeadID, cand.EmailTo, subject, content.Body, store.OutreachFollowup, messageID); err != nil {
			s.Logger.Error("record followup failed", zap.Int64("lead", cand.LeadID), zap.Error(err))
		} else if err := st.MarkFollowupSent(cand.OutreachID); err != nil {
			s.Logger.Error("mark followup failed", zap.Int64("outreach", cand.OutreachID), zap.Error(err))
		} else {
			sent++
		}
		s.pause(ctx)
	}

	s.Logger.Info("followups complete", zap.Int("sent", sent), zap.Int("total", len(candidates)))
	return sent, nil
}

func (s *Sender) pause(ctx context.Context) {
	if s.Delay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(s.Delay):
	}
}
