// Package enrich fills in missing lead contact data: website scraping for
// emails, names, phones and page text, plus free email lookup via web
// search and SMTP pattern verification.
package enrich

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/acem-systems/agentd/internal/pipeline/config"
	"github.com/acem-systems/agentd/internal/pipeline/store"
	"github.com/acem-systems/agentd/internal/pipeline/textutil"
)

var scrapeHeaders = map[string]string{
	"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "es-ES,es;q=0.9,en;q=0.8",
}

// Pages whose text feeds the AI analysis.
var aboutPages = map[string]bool{
	"": true, "/nosotros": true, "/about": true, "/about-us": true, "/sobre-nosotros": true,
}

var roleKeywords = []string{
	"CEO", "Fundador", "Founder", "Director", "Managing Director",
	"Directora", "Cofundador", "Co-founder", "Owner", "Gerente",
	"Socio", "Partner",
}

const namePattern = `[A-ZÁÉÍÓÚÑ][a-záéíóúñ]+ [A-ZÁÉÍÓÚÑ][a-záéíóúñ]+(?:\s[A-ZÁÉÍÓÚÑ][a-záéíóúñ]+)?`

// Scraper visits lead websites and extracts contact data.
type Scraper struct {
	http *http.Client
	log  *zap.Logger

	// Delays between pages of one site and between sites. Zero in tests.
	PageDelay time.Duration
	SiteDelay time.Duration
}

// NewScraper builds a scraper with the standard timeouts.
func NewScraper(logger *zap.Logger) *Scraper {
	return &Scraper{
		http:      &http.Client{Timeout: config.WebsiteScrapeTimeout},
		log:       logger,
		PageDelay: 500 * time.Millisecond,
		SiteDelay: config.WebsiteScrapeDelay,
	}
}

func (s *Scraper) fetch(ctx context.Context, url string) (*html.Node, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, ""
	}
	for k, v := range scrapeHeaders {
		req.Header.Set(k, v)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, ""
	}
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, ""
	}
	return doc, pageText(doc)
}

// pageText flattens the document to visible text, skipping script, style,
// noscript and iframe subtrees.
func pageText(doc *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe":
				return
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sb.String()
}

// hrefs collects every anchor href with the given scheme prefix, without
// the prefix and any query suffix.
func hrefs(doc *html.Node, scheme string) []string {
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" && strings.HasPrefix(attr.Val, scheme) {
					val := strings.TrimPrefix(attr.Val, scheme)
					val = strings.SplitN(val, "?", 2)[0]
					out = append(out, strings.TrimSpace(val))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

func normalizeURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	if path == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(path, "/")
}

// extractContactName looks for "Name - Role" or "Role: Name" patterns near
// known role titles.
func extractContactName(text string) string {
	for _, keyword := range roleKeywords {
		patterns := []string{
			`(` + namePattern + `)\s*[,\-–|]\s*(?i:` + regexp.QuoteMeta(keyword) + `)`,
			`(?i:` + regexp.QuoteMeta(keyword) + `)\s*[,\-–|:]\s*(` + namePattern + `)`,
		}
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				continue
			}
			m := re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			name := strings.TrimSpace(m[1])
			words := strings.Fields(name)
			if len(words) >= 2 && len(words) <= 4 && len(name) < 60 {
				return name
			}
		}
	}
	return ""
}

// ScrapeLead visits a lead's homepage and contact pages and returns the
// column updates it could extract. An empty map means nothing was found.
func (s *Scraper) ScrapeLead(ctx context.Context, lead store.Lead) map[string]string {
	if lead.Website == "" {
		return nil
	}

	var allEmails, allText []string
	var phone, contactName string

	for _, pagePath := range config.ContactPages {
		doc, text := s.fetch(ctx, normalizeURL(lead.Website, pagePath))
		if doc == nil {
			continue
		}

		emails := textutil.ExtractEmails(text)
		for _, raw := range hrefs(doc, "mailto:") {
			if cleaned := textutil.CleanEmail(raw); cleaned != "" {
				emails = append(emails, cleaned)
			}
		}
		allEmails = append(allEmails, emails...)

		if phone == "" {
			if tels := hrefs(doc, "tel:"); len(tels) > 0 {
				phone = tels[0]
			} else {
				phone = textutil.ExtractPhone(text)
			}
		}
		if contactName == "" {
			contactName = extractContactName(text)
		}

		if aboutPages[pagePath] {
			clean := textutil.SanitizeText(text, 800)
			if len(clean) > 50 {
				allText = append(allText, clean)
			}
		}

		s.sleep(ctx, s.PageDelay)
	}

	seen := map[string]bool{}
	unique := allEmails[:0]
	for _, e := range allEmails {
		if !seen[e] {
			seen[e] = true
			unique = append(unique, e)
		}
	}
	prioritized := textutil.PrioritizeEmails(unique)

	result := map[string]string{}
	if len(prioritized) > 0 {
		result["email"] = prioritized[0]
		result["email_source"] = store.SourceWebsite
	}
	if contactName != "" {
		result["contact_name"] = contactName
	}
	if phone != "" {
		result["phone"] = phone
	}
	if len(allText) > 0 {
		result["scraped_text"] = strings.Join(allText, " | ")
	}
	return result
}

// Run scrapes every lead that still needs website enrichment. Returns the
// number of leads that got at least one new field.
func (s *Scraper) Run(ctx context.Context, st *store.Store, limit int) (int, error) {
	leads, err := st.LeadsNeedingWebsiteEnrichment(limit)
	if err != nil {
		return 0, err
	}
	if len(leads) == 0 {
		s.log.Info("no leads need website enrichment")
		return 0, nil
	}

	s.log.Info("website enrichment starting", zap.Int("leads", len(leads)))
	enriched := 0

	for _, lead := range leads {
		data := s.ScrapeLead(ctx, lead)
		if len(data) > 0 {
			if err := st.UpdateLead(lead.ID, data); err != nil {
				s.log.Warn("persist scrape failed", zap.Int64("lead", lead.ID), zap.Error(err))
			} else {
				enriched++
				if email, ok := data["email"]; ok {
					s.log.Debug("scrape found email",
						zap.String("domain", lead.Domain), zap.String("email", email))
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return enriched, fmt.Errorf("website enrichment interrupted: %w", err)
		}
		s.sleep(ctx, s.SiteDelay)
	}

	s.log.Info("website enrichment complete",
		zap.Int("enriched", enriched), zap.Int("total", len(leads)))
	return enriched, nil
}

func (s *Scraper) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
