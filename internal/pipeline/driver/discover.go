// Package driver orchestrates the lead-generation pipeline: discovery,
// enrichment, AI analysis, report delivery, and outreach, run as one
// sequence with per-stage error isolation.
package driver

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/acem-systems/agentd/internal/pipeline/config"
	"github.com/acem-systems/agentd/internal/pipeline/serper"
	"github.com/acem-systems/agentd/internal/pipeline/store"
	"github.com/acem-systems/agentd/internal/pipeline/textutil"
)

// LeadSearcher finds candidate leads for one city.
type LeadSearcher interface {
	SearchByLocation(ctx context.Context, city, country string, limit, oversample int) ([]store.Lead, error)
}

// serperSearcher discovers agencies through web search when Apollo is not
// configured. Results carry only domain-level data; the enrichment stages
// fill in the rest.
type serperSearcher struct {
	client *serper.Client
	log    *zap.Logger
}

func (s serperSearcher) SearchByLocation(ctx context.Context, city, country string, limit, _ int) ([]store.Lead, error) {
	query := fmt.Sprintf("agencias de marketing digital en %s, %s", city, country)
	resp, err := s.client.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	leads := []store.Lead{}
	for _, r := range resp.Organic {
		domain := textutil.ExtractDomain(r.Link)
		if domain == "" || seen[domain] || textutil.IsExcludedDomain(r.Link, config.ExcludedDomains) {
			continue
		}
		seen[domain] = true

		name := strings.TrimSpace(strings.SplitN(r.Title, "|", 2)[0])
		name = strings.TrimSpace(strings.SplitN(name, " - ", 2)[0])
		if name == "" {
			name = domain
		}
		leads = append(leads, store.Lead{
			Domain:      domain,
			CompanyName: name,
			Website:     "https://" + domain,
			City:        city,
			Country:     country,
			Snippet:     r.Snippet,
		})
		if len(leads) >= limit {
			break
		}
	}
	s.log.Info("serper discovery", zap.String("city", city), zap.Int("results", len(leads)))
	return leads, nil
}

// Discoverer runs the city-rotation discovery stage.
type Discoverer struct {
	Searcher    LeadSearcher
	Log         *zap.Logger
	LeadsPerDay int
	Oversample  int

	// MaxCityAttempts bounds a single run so an exhausted rotation does
	// not spin.
	MaxCityAttempts int
}

// Run discovers leads city by city until the daily target is met or the
// attempt budget runs out. The rotation pointer always advances, even for
// cities that produced nothing.
func (d *Discoverer) Run(ctx context.Context, st *store.Store) (int, error) {
	if d.Searcher == nil {
		d.Log.Error("no lead search backend configured, skipping discovery")
		return 0, nil
	}
	maxAttempts := d.MaxCityAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	inserted := 0
	attempted := map[string]bool{}

	for inserted < d.LeadsPerDay && len(attempted) < maxAttempts {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}

		city, err := st.NextCity()
		if err != nil {
			return inserted, fmt.Errorf("next city: %w", err)
		}
		key := city.Name + "|" + city.Country
		if attempted[key] {
			break
		}

		// Margin for duplicates and excluded domains.
		searchLimit := d.LeadsPerDay - inserted + 10

		d.Log.Info("discovering leads",
			zap.String("city", city.Name), zap.String("country", city.Country))
		leads, err := d.Searcher.SearchByLocation(ctx, city.Name, city.Country, searchLimit, d.Oversample)
		if err != nil {
			d.Log.Error("city search failed",
				zap.String("city", city.Name), zap.Error(err))
		}

		insertedHere := 0
		for _, lead := range leads {
			exists, err := st.LeadExists(lead.Domain)
			if err != nil {
				return inserted, err
			}
			if exists {
				continue
			}
			if _, ok, err := st.InsertLead(lead); err != nil {
				return inserted, err
			} else if ok {
				inserted++
				insertedHere++
				if inserted >= d.LeadsPerDay {
					break
				}
			}
		}

		if err := st.AdvanceCity(city.Name, city.Country); err != nil {
			return inserted, err
		}
		attempted[key] = true

		d.Log.Info("city discovery complete",
			zap.String("city", city.Name),
			zap.Int("found", len(leads)),
			zap.Int("inserted", insertedHere),
			zap.Int("total", inserted),
			zap.Int("target", d.LeadsPerDay))
	}

	if inserted < d.LeadsPerDay {
		d.Log.Warn("discovery target not reached",
			zap.Int("cities", len(attempted)),
			zap.Int("inserted", inserted),
			zap.Int("target", d.LeadsPerDay))
	}
	return inserted, nil
}
