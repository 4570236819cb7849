package enrich

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/acem-systems/agentd/internal/pipeline/config"
	"github.com/acem-systems/agentd/internal/pipeline/serper"
	"github.com/acem-systems/agentd/internal/pipeline/store"
	"github.com/acem-systems/agentd/internal/pipeline/textutil"
)

// Common mailbox prefixes for agencies, most likely first.
var emailPatternPrefixes = []string{"info", "contacto", "hola", "hello", "contact"}

// FreeEmailFinder looks up emails without paid enrichment: a web search
// for addresses on the lead's domain, then pattern guessing backed by DNS
// and SMTP checks.
type FreeEmailFinder struct {
	Serper *serper.Client
	log    *zap.Logger

	// Delay between leads. Zero in tests.
	Delay time.Duration

	// Overridable network probes.
	domainAcceptsMail func(domain string) bool
	verifyMailbox     func(email string) bool
}

// NewFreeEmailFinder builds a finder with real DNS and SMTP probes.
func NewFreeEmailFinder(serperClient *serper.Client, logger *zap.Logger) *FreeEmailFinder {
	return &FreeEmailFinder{
		Serper:            serperClient,
		log:               logger,
		Delay:             config.WebsiteScrapeDelay,
		domainAcceptsMail: domainAcceptsMail,
		verifyMailbox:     verifyMailbox,
	}
}

// domainAcceptsMail checks MX records, falling back to A records since
// mail may be handled by the apex host.
func domainAcceptsMail(domain string) bool {
	if mx, err := net.LookupMX(domain); err == nil && len(mx) > 0 {
		return true
	}
	addrs, err := net.LookupHost(domain)
	return err == nil && len(addrs) > 0
}

// verifyMailbox asks the domain's mail server whether the address exists
// via RCPT TO. Many servers block this, so false only means "unverified".
func verifyMailbox(email string) bool {
	domain := strings.SplitN(email, "@", 2)[1]

	conn, err := net.DialTimeout("tcp", domain+":25", 8*time.Second)
	if err != nil {
		return false
	}
	client, err := smtp.NewClient(conn, domain)
	if err != nil {
		conn.Close()
		return false
	}
	defer client.Close()

	if err := client.Hello("verify.local"); err != nil {
		return false
	}
	if err := client.Mail("test@verify.local"); err != nil {
		return false
	}
	return client.Rcpt(email) == nil
}

// searchEmails finds addresses on the lead's domain via web search.
func (f *FreeEmailFinder) searchEmails(ctx context.Context, domain string) ([]string, error) {
	resp, err := f.Serper.Search(ctx, domain+" email contacto", 5)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var emails []string
	collect := func(text string) {
		for _, email := range textutil.ExtractEmails(text) {
			if strings.Contains(strings.ToLower(email), domain) && !seen[email] {
				seen[email] = true
				emails = append(emails, email)
			}
		}
	}

	for _, r := range resp.Organic {
		collect(r.Title + " " + r.Snippet + " " + r.Link)
	}
	collect(fmt.Sprint(resp.KnowledgeGraph))
	collect(fmt.Sprint(resp.AnswerBox))
	return emails, nil
}

// tryPatterns guesses common mailboxes on the domain. Returns the address
// and its source tag, or empty when the domain does not accept mail.
func (f *FreeEmailFinder) tryPatterns(domain string) (string, string) {
	if !f.domainAcceptsMail(domain) {
		f.log.Debug("domain does not accept mail", zap.String("domain", domain))
		return "", store.SourceNone
	}

	for _, prefix := range emailPatternPrefixes {
		email := prefix + "@" + domain
		if f.verifyMailbox(email) {
			return email, store.SourceSMTPVerified
		}
	}

	// SMTP verification is usually blocked. info@ is the most common
	// generic mailbox for businesses.
	return "info@" + domain, store.SourcePatternGuess
}

// Run attempts free email enrichment for leads still missing an address.
// Returns the number of leads where one was found.
func (f *FreeEmailFinder) Run(ctx context.Context, st *store.Store, limit int) (int, error) {
	leads, err := st.LeadsNeedingEmailEnrichment(limit)
	if err != nil {
		return 0, err
	}
	if len(leads) == 0 {
		f.log.Info("no leads need free email enrichment")
		return 0, nil
	}

	f.log.Info("free email enrichment starting", zap.Int("leads", len(leads)))
	found := 0

	for _, lead := range leads {
		var email, source string

		if f.Serper.Configured() {
			emails, err := f.searchEmails(ctx, lead.Domain)
			if err != nil {
				f.log.Debug("email search failed", zap.String("domain", lead.Domain), zap.Error(err))
			} else if len(emails) > 0 {
				email, source = emails[0], store.SourceSerper
			}
		}
		if email == "" && lead.Domain != "" {
			email, source = f.tryPatterns(lead.Domain)
		}

		if email != "" {
			err = st.UpdateLead(lead.ID, map[string]string{"email": email, "email_source": source})
		} else {
			err = st.UpdateLead(lead.ID, map[string]string{"email_source": store.SourceNone})
		}
		if err != nil {
			f.log.Warn("persist email lookup failed", zap.Int64("lead", lead.ID), zap.Error(err))
		} else if email != "" {
			found++
		}

		if f.Delay > 0 {
			select {
			case <-ctx.Done():
				return found, ctx.Err()
			case <-time.After(f.Delay):
			}
		}
	}

	f.log.Info("free email enrichment complete",
		zap.Int("found", found), zap.Int("attempted", len(leads)))
	return found, nil
}
