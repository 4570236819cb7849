package driver

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/acem-systems/agentd/internal/pipeline/ai"
	"github.com/acem-systems/agentd/internal/pipeline/apollo"
	"github.com/acem-systems/agentd/internal/pipeline/config"
	"github.com/acem-systems/agentd/internal/pipeline/enrich"
	"github.com/acem-systems/agentd/internal/pipeline/outreach"
	"github.com/acem-systems/agentd/internal/pipeline/report"
	"github.com/acem-systems/agentd/internal/pipeline/serper"
	"github.com/acem-systems/agentd/internal/pipeline/store"
)

// Pipeline runs the full lead-generation sequence. Stage implementations
// are function fields so tests can substitute them.
type Pipeline struct {
	cfg config.Config
	st  *store.Store
	log *zap.Logger

	discover     func(ctx context.Context) (int, error)
	scrape       func(ctx context.Context, limit int) (int, error)
	apolloEmails func(ctx context.Context, limit int) (int, error)
	freeEmails   func(ctx context.Context, limit int) (int, error)
	analyze      func(ctx context.Context, limit int) (int, error)
	sendReport   func(to, subject, htmlBody, attachment string) error
	sendOutreach func(ctx context.Context, limit int) (int, error)
	followups    func(ctx context.Context) (int, error)

	now func() time.Time
}

// New wires a pipeline from configuration. The store stays owned by the
// caller.
func New(cfg config.Config, st *store.Store, logger *zap.Logger) (*Pipeline, error) {
	p := &Pipeline{cfg: cfg, st: st, log: logger, now: time.Now}

	apolloClient := apollo.New(cfg.ApolloAPIKey, "", logger)
	serperClient := serper.New(cfg.SerperAPIKey, "")

	var searcher LeadSearcher
	switch {
	case apolloClient.Configured():
		searcher = apolloClient
	case serperClient.Configured():
		searcher = serperSearcher{client: serperClient, log: logger}
	}
	discoverer := &Discoverer{
		Searcher:    searcher,
		Log:         logger,
		LeadsPerDay: cfg.LeadsPerDay,
		Oversample:  cfg.OversampleFactor,
	}
	p.discover = func(ctx context.Context) (int, error) {
		return discoverer.Run(ctx, st)
	}

	scraper := enrich.NewScraper(logger)
	p.scrape = func(ctx context.Context, limit int) (int, error) {
		return scraper.Run(ctx, st, limit)
	}

	p.apolloEmails = func(ctx context.Context, limit int) (int, error) {
		return apolloClient.EnrichEmails(ctx, st, limit)
	}

	finder := enrich.NewFreeEmailFinder(serperClient, logger)
	p.freeEmails = func(ctx context.Context, limit int) (int, error) {
		return finder.Run(ctx, st, limit)
	}

	analyzer := ai.NewAnalyzer(cfg, logger)
	p.analyze = func(ctx context.Context, limit int) (int, error) {
		return analyzer.Run(ctx, st, limit)
	}

	mailer := outreach.NewMailer(cfg, logger)
	p.sendReport = mailer.Send

	if p.outreachConfigured() {
		sender, err := outreach.NewSender(cfg, logger)
		if err != nil {
			return nil, err
		}
		p.sendOutreach = func(ctx context.Context, limit int) (int, error) {
			return sender.Run(ctx, st, limit)
		}
		p.followups = func(ctx context.Context) (int, error) {
			return sender.Followups(ctx, st)
		}
	}

	return p, nil
}

func (p *Pipeline) outreachConfigured() bool {
	if p.cfg.OutreachTransport == "smtp" {
		return p.cfg.GmailAddress != "" && p.cfg.GmailAppPassword != ""
	}
	return p.cfg.GMassAPIKey != ""
}

func (p *Pipeline) recipient() string {
	if p.cfg.RecipientEmail != "" {
		return p.cfg.RecipientEmail
	}
	return p.cfg.GmailAddress
}

// stage runs one pipeline stage inside an error boundary: a failure logs,
// records a zero count, and lets the run continue.
func (p *Pipeline) stage(name string, stats *store.RunStats, fn func() (int, error)) int {
	count, err := fn()
	if err != nil {
		p.log.Error("stage failed", zap.String("stage", name), zap.Error(err))
		stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", name, err))
		return 0
	}
	return count
}

// Run executes the full pipeline and returns the run stats. The stats row
// is always persisted, even after a failed run.
func (p *Pipeline) Run(ctx context.Context) store.RunStats {
	start := p.now()
	runDate := start.Format("2006-01-02")
	stats := store.RunStats{Errors: []string{}}

	p.log.Info("pipeline start", zap.String("run_date", runDate))

	defer func() {
		stats.DurationSeconds = math.Round(p.now().Sub(start).Seconds()*100) / 100
		if err := p.st.LogPipelineRun(stats); err != nil {
			p.log.Error("log pipeline run failed", zap.Error(err))
		}
		p.log.Info("pipeline complete",
			zap.Int("discovered", stats.Discovered),
			zap.Int("enriched", stats.Enriched),
			zap.Int("with_email", stats.WithEmail),
			zap.Int("ai_analyzed", stats.AIAnalyzed),
			zap.Int("sent", stats.Sent),
			zap.Int("outreach_sent", stats.OutreachSent),
			zap.Float64("duration_seconds", stats.DurationSeconds),
			zap.Int("errors", len(stats.Errors)))
	}()

	if total, err := p.st.TotalLeads(); err == nil {
		unsent, _ := p.st.UnsentCount()
		p.log.Info("store state", zap.Int("total_leads", total), zap.Int("unsent_enriched", unsent))
	}

	limit := p.cfg.LeadsPerDay

	stats.Discovered = p.stage("Discovery", &stats, func() (int, error) {
		return p.discover(ctx)
	})

	stats.Enriched = p.stage("Website enrichment", &stats, func() (int, error) {
		return p.scrape(ctx, limit)
	})

	stats.WithEmail = p.stage("Apollo enrichment", &stats, func() (int, error) {
		found, err := p.apolloEmails(ctx, limit)
		if err != nil {
			return found, err
		}
		// Free-tier fallback for whatever Apollo left without an email.
		extra, err := p.freeEmails(ctx, limit)
		return found + extra, err
	})

	stats.AIAnalyzed = p.stage("AI analysis", &stats, func() (int, error) {
		return p.analyze(ctx, limit)
	})

	p.deliverReport(&stats, runDate, limit)

	if p.sendOutreach == nil {
		p.log.Info("outreach transport not configured, skipping outreach")
	} else {
		stats.OutreachSent = p.stage("Outreach", &stats, func() (int, error) {
			sent, err := p.sendOutreach(ctx, limit)
			if err != nil {
				return sent, err
			}
			followed, err := p.followups(ctx)
			return sent + followed, err
		})
	}

	return stats
}

// deliverReport builds the spreadsheet and HTML body from the unsent leads
// and emails them; leads are marked sent only on a successful delivery.
func (p *Pipeline) deliverReport(stats *store.RunStats, runDate string, limit int) {
	leads, err := p.st.UnsentLeads(limit)
	if err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("Build outputs: %v", err))
		return
	}
	if len(leads) == 0 {
		p.log.Warn("no enriched leads available to send; first runs need discovery, enrichment and AI analysis to fill the pool")
		return
	}

	attachment, err := report.WriteSpreadsheet(filepath.Join(p.cfg.DataDir, "tmp"), leads, runDate)
	if err != nil {
		p.log.Error("spreadsheet build failed", zap.Error(err))
		stats.Errors = append(stats.Errors, fmt.Sprintf("Build outputs: %v", err))
		attachment = ""
	}
	body := report.BuildEmailBody(leads, runDate)
	subject := report.Subject(runDate, len(leads))

	if err := p.sendReport(p.recipient(), subject, body, attachment); err != nil {
		p.log.Error("report send failed", zap.Error(err))
		stats.Errors = append(stats.Errors, fmt.Sprintf("Send report: %v", err))
		return
	}

	ids := make([]int64, len(leads))
	for i, l := range leads {
		ids[i] = l.ID
	}
	if err := p.st.MarkLeadsSent(ids); err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("Send report: %v", err))
		return
	}
	stats.Sent = len(leads)
	p.log.Info("report sent", zap.Int("leads", len(leads)), zap.String("to", p.recipient()))
}
