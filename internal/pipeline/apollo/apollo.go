// Package apollo is a read-only client for the Apollo.io API. It searches
// for agencies by location and enriches leads with contact emails. It
// never calls endpoints that create or modify data in Apollo.
package apollo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/acem-systems/agentd/internal/pipeline/config"
	"github.com/acem-systems/agentd/internal/pipeline/store"
	"github.com/acem-systems/agentd/internal/pipeline/textutil"
	"github.com/acem-systems/agentd/internal/retry"
)

const (
	resultsPerPage = 25
	bulkBatchSize  = 10
)

// Client calls the Apollo API.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	log     *zap.Logger

	// Delay between paged requests. Zero in tests.
	Delay time.Duration
}

// New creates a client. An empty baseURL selects the public API.
func New(apiKey, baseURL string, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = config.ApolloAPIBase
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     logger,
		Delay:   config.ApolloRateLimitDelay,
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool { return c != nil && c.apiKey != "" }

func (c *Client) request(ctx context.Context, method, endpoint string, payload map[string]any, out any) error {
	return retry.Do(ctx, 3, 2*time.Second, nil, func() error {
		var req *http.Request
		var err error
		if method == http.MethodGet {
			q := url.Values{}
			for k, v := range payload {
				q.Set(k, fmt.Sprint(v))
			}
			req, err = http.NewRequestWithContext(ctx, method, c.baseURL+"/"+endpoint+"?"+q.Encode(), nil)
		} else {
			var raw []byte
			raw, err = json.Marshal(payload)
			if err != nil {
				return retry.WrapPermanent(fmt.Errorf("apollo: encode request: %w", err))
			}
			req, err = http.NewRequestWithContext(ctx, method, c.baseURL+"/"+endpoint, bytes.NewReader(raw))
		}
		if err != nil {
			return retry.WrapPermanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("X-Api-Key", c.apiKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("apollo: %s status %d", endpoint, resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return retry.WrapPermanent(err)
			}
			return err
		}
		if err := json.Unmarshal(body, out); err != nil {
			return retry.WrapPermanent(fmt.Errorf("apollo: decode %s response: %w", endpoint, err))
		}
		return nil
	})
}

type organization struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	PrimaryDomain    string `json:"primary_domain"`
	WebsiteURL       string `json:"website_url"`
	ShortDescription string `json:"short_description"`
	Phone            string `json:"phone"`
}

func (o organization) domain() string {
	d := o.PrimaryDomain
	if d == "" {
		d = o.WebsiteURL
	}
	if d == "" {
		return ""
	}
	return textutil.ExtractDomain(d)
}

func orgLead(o organization, city, country string) store.Lead {
	domain := o.domain()
	name := o.Name
	if name == "" {
		name = "Unknown Agency"
	}
	return store.Lead{
		Domain:      domain,
		CompanyName: name,
		Website:     "https://" + domain,
		City:        city,
		Country:     country,
		Snippet:     o.ShortDescription,
		Phone:       o.Phone,
	}
}

// SearchCompanies finds agencies in a location via the company search
// endpoint. Excluded and duplicate domains are filtered out.
func (c *Client) SearchCompanies(ctx context.Context, city, country string, limit int) ([]store.Lead, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("apollo: api key not configured")
	}

	location := city + ", " + country
	payload := map[string]any{
		"organization_locations":      []string{location},
		"q_organization_keyword_tags": config.ApolloIndustryKeywords,
		"per_page":                    min(limit, resultsPerPage),
	}

	var leads []store.Lead
	seen := map[string]bool{}
	pages := limit/resultsPerPage + 1

	for page := 1; page <= pages && len(leads) < limit; page++ {
		payload["page"] = page

		var data struct {
			Organizations []organization `json:"organizations"`
		}
		if err := c.request(ctx, http.MethodPost, "mixed_companies/search", payload, &data); err != nil {
			c.log.Warn("apollo company search failed", zap.Int("page", page), zap.Error(err))
			break
		}
		if len(data.Organizations) == 0 {
			break
		}

		for _, org := range data.Organizations {
			domain := org.domain()
			if domain == "" || seen[domain] {
				continue
			}
			if textutil.IsExcludedDomain("https://"+domain, config.ExcludedDomains) {
				continue
			}
			seen[domain] = true
			leads = append(leads, orgLead(org, city, country))
			if len(leads) >= limit {
				break
			}
		}
		c.pause(ctx)
	}

	c.log.Info("apollo company search done",
		zap.String("location", location), zap.Int("companies", len(leads)))
	return leads, nil
}

type person struct {
	ID           string       `json:"id"`
	FirstName    string       `json:"first_name"`
	LastName     string       `json:"last_name"`
	Title        string       `json:"title"`
	Email        string       `json:"email"`
	LinkedInURL  string       `json:"linkedin_url"`
	Organization organization `json:"organization"`
}

// SearchPeople finds decision-makers at agencies in a location, then bulk
// enriches them for emails. Person IDs are oversampled because several
// people often share one organization and deduping by domain would
// otherwise undershoot the limit.
func (c *Client) SearchPeople(ctx context.Context, city, country string, limit, oversample int) ([]store.Lead, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("apollo: api key not configured")
	}
	if oversample < 1 {
		oversample = 1
	}

	location := city + ", " + country
	payload := map[string]any{
		"person_titles":               config.ApolloTargetTitles,
		"organization_locations":      []string{location},
		"q_organization_keyword_tags": config.ApolloIndustryKeywords,
		"per_page":                    resultsPerPage,
	}

	target := limit * oversample
	if target < limit {
		target = limit
	}
	pages := target/resultsPerPage + 1

	var personIDs []string
	for page := 1; page <= pages && len(personIDs) < target; page++ {
		payload["page"] = page

		var data struct {
			People []person `json:"people"`
		}
		if err := c.request(ctx, http.MethodPost, "mixed_people/api_search", payload, &data); err != nil {
			c.log.Warn("apollo people search failed", zap.Int("page", page), zap.Error(err))
			break
		}
		if len(data.People) == 0 {
			break
		}
		for _, p := range data.People {
			if p.ID == "" {
				continue
			}
			personIDs = append(personIDs, p.ID)
			if len(personIDs) >= target {
				break
			}
		}
		c.pause(ctx)
	}

	if len(personIDs) == 0 {
		c.log.Info("apollo people search found nobody", zap.String("location", location))
		return nil, nil
	}

	var leads []store.Lead
	seen := map[string]bool{}
	for i := 0; i < len(personIDs) && len(leads) < limit; i += bulkBatchSize {
		end := min(i+bulkBatchSize, len(personIDs))
		matches, err := c.bulkMatch(ctx, personIDs[i:end])
		if err != nil {
			c.log.Warn("apollo bulk enrichment failed", zap.Error(err))
			continue
		}

		for _, m := range matches {
			domain := m.Organization.domain()
			if domain == "" || seen[domain] {
				continue
			}
			if textutil.IsExcludedDomain("https://"+domain, config.ExcludedDomains) {
				continue
			}
			seen[domain] = true

			lead := orgLead(m.Organization, city, country)
			lead.ContactName = strings.TrimSpace(m.FirstName + " " + m.LastName)
			lead.Email = m.Email
			if m.Email != "" {
				lead.EmailSource = store.SourceApollo
			}
			leads = append(leads, lead)
			if len(leads) >= limit {
				break
			}
		}
		c.pause(ctx)
	}

	withEmail := 0
	for _, l := range leads {
		if l.Email != "" {
			withEmail++
		}
	}
	c.log.Info("apollo people search done", zap.String("location", location),
		zap.Int("leads", len(leads)), zap.Int("with_email", withEmail))
	return leads, nil
}

func (c *Client) bulkMatch(ctx context.Context, ids []string) ([]person, error) {
	details := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		details = append(details, map[string]string{"id": id})
	}
	var data struct {
		Matches []person `json:"matches"`
	}
	if err := c.request(ctx, http.MethodPost, "people/bulk_match", map[string]any{"details": details}, &data); err != nil {
		return nil, err
	}
	return data.Matches, nil
}

// SearchByLocation finds leads for a city. People search comes first since
// it yields contact names that make later email matching far more
// effective; company search is the fallback.
func (c *Client) SearchByLocation(ctx context.Context, city, country string, limit, oversample int) ([]store.Lead, error) {
	leads, err := c.SearchPeople(ctx, city, country, limit, oversample)
	if err != nil {
		return nil, err
	}
	if len(leads) > 0 {
		return leads, nil
	}
	c.log.Info("people search empty, falling back to company search")
	return c.SearchCompanies(ctx, city, country, limit)
}

// Match is a person enrichment result.
type Match struct {
	Email       string
	Phone       string
	Title       string
	ContactName string
}

// MatchPerson enriches one person by company domain and optional name via
// the people/match endpoint.
func (c *Client) MatchPerson(ctx context.Context, domain, name string) (Match, error) {
	if domain == "" {
		return Match{}, fmt.Errorf("apollo: match needs a domain")
	}

	payload := map[string]any{"organization_domain": domain}
	if name != "" {
		parts := strings.SplitN(name, " ", 2)
		payload["first_name"] = parts[0]
		if len(parts) == 2 {
			payload["last_name"] = parts[1]
		}
	}

	var data struct {
		Person *struct {
			FirstName    string `json:"first_name"`
			LastName     string `json:"last_name"`
			Title        string `json:"title"`
			Email        string `json:"email"`
			PhoneNumbers []struct {
				RawNumber string `json:"raw_number"`
			} `json:"phone_numbers"`
		} `json:"person"`
	}
	if err := c.request(ctx, http.MethodPost, "people/match", payload, &data); err != nil {
		return Match{}, err
	}
	if data.Person == nil {
		return Match{}, nil
	}

	m := Match{
		Email:       data.Person.Email,
		Title:       data.Person.Title,
		ContactName: strings.TrimSpace(data.Person.FirstName + " " + data.Person.LastName),
	}
	if len(data.Person.PhoneNumbers) > 0 {
		m.Phone = data.Person.PhoneNumbers[0].RawNumber
	}
	return m, nil
}

// OrganizationPhone fetches a company phone by domain.
func (c *Client) OrganizationPhone(ctx context.Context, domain string) (string, error) {
	if domain == "" {
		return "", nil
	}
	var data struct {
		Organization *organization `json:"organization"`
	}
	if err := c.request(ctx, http.MethodGet, "organizations/enrich", map[string]any{"domain": domain}, &data); err != nil {
		return "", err
	}
	if data.Organization == nil {
		return "", nil
	}
	return strings.TrimSpace(data.Organization.Phone), nil
}

func (c *Client) pause(ctx context.Context) {
	if c.Delay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(c.Delay):
	}
}
