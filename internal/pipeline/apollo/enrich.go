package apollo

import (
	"context"

	"go.uber.org/zap"

	"github.com/acem-systems/agentd/internal/pipeline/store"
)

// EnrichEmails matches every email-less lead against Apollo and persists
// what comes back. A match without an email is recorded with
// email_source='none' so the lead stays retryable on later runs. Returns
// the number of emails found.
func (c *Client) EnrichEmails(ctx context.Context, st *store.Store, limit int) (int, error) {
	if !c.Configured() {
		c.log.Error("APOLLO_API_KEY not configured, skipping apollo enrichment")
		return 0, nil
	}

	leads, err := st.LeadsNeedingEmailEnrichment(limit)
	if err != nil {
		return 0, err
	}
	if len(leads) == 0 {
		c.log.Info("no leads need email enrichment")
		return 0, nil
	}

	c.log.Info("apollo email enrichment starting", zap.Int("leads", len(leads)))
	found := 0

	for _, lead := range leads {
		m, err := c.MatchPerson(ctx, lead.Domain, lead.ContactName)
		if err != nil {
			c.log.Debug("apollo match failed", zap.String("domain", lead.Domain), zap.Error(err))
			c.pause(ctx)
			continue
		}
		if m == (Match{}) {
			c.log.Debug("no apollo match", zap.String("domain", lead.Domain))
			c.pause(ctx)
			continue
		}

		fields := map[string]string{}
		if m.Email != "" {
			fields["email"] = m.Email
			fields["email_source"] = store.SourceApollo
		} else {
			// Record the attempt without blocking future retries.
			fields["email_source"] = store.SourceNone
		}
		if m.ContactName != "" {
			fields["contact_name"] = m.ContactName
		} else if lead.ContactName != "" {
			fields["contact_name"] = lead.ContactName
		}
		if m.Phone != "" {
			fields["phone"] = m.Phone
		}

		if err := st.UpdateLead(lead.ID, fields); err != nil {
			c.log.Warn("persist apollo match failed", zap.Int64("lead", lead.ID), zap.Error(err))
		} else if m.Email != "" {
			found++
		}
		c.pause(ctx)
	}

	c.log.Info("apollo email enrichment complete",
		zap.Int("found", found), zap.Int("attempted", len(leads)))

	if err := c.enrichPhones(ctx, st, limit); err != nil {
		c.log.Warn("apollo phone enrichment failed", zap.Error(err))
	}
	return found, nil
}

func (c *Client) enrichPhones(ctx context.Context, st *store.Store, limit int) error {
	leads, err := st.LeadsMissingPhone(limit)
	if err != nil {
		return err
	}
	if len(leads) == 0 {
		return nil
	}

	c.log.Info("apollo phone enrichment starting", zap.Int("leads", len(leads)))
	updated := 0
	for _, lead := range leads {
		if lead.Domain == "" {
			continue
		}
		phone, err := c.OrganizationPhone(ctx, lead.Domain)
		if err != nil || phone == "" {
			c.pause(ctx)
			continue
		}
		if err := st.UpdateLead(lead.ID, map[string]string{"phone": phone}); err == nil {
			updated++
		}
		c.pause(ctx)
	}
	c.log.Info("apollo phone enrichment complete",
		zap.Int("found", updated), zap.Int("attempted", len(leads)))
	return nil
}
