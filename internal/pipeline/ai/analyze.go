// Package ai generates company summaries and automation suggestions for
// leads. Gemini is the primary model, an OpenAI-compatible API the
// fallback, and a canned Spanish summary the last resort when both fail.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/acem-systems/agentd/internal/pipeline/config"
	"github.com/acem-systems/agentd/internal/pipeline/store"
	"github.com/acem-systems/agentd/internal/pipeline/textutil"
)

// Automation is one suggested automation for a lead.
type Automation struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Value       string `json:"value"`
}

// Analysis is the model output persisted onto a lead.
type Analysis struct {
	Summary     string       `json:"summary"`
	Automations []Automation `json:"automations"`
}

// Analyzer runs the AI analysis stage. Either provider may be nil when its
// API key is not configured.
type Analyzer struct {
	Primary  Provider
	Fallback Provider
	Logger   *zap.Logger

	// Delay between model calls. Zero in tests.
	Delay time.Duration
}

// NewAnalyzer wires providers from the configured API keys.
func NewAnalyzer(cfg config.Config, logger *zap.Logger) *Analyzer {
	a := &Analyzer{Logger: logger, Delay: config.AIRequestDelay}
	if cfg.GeminiAPIKey != "" {
		a.Primary = NewGemini(cfg.GeminiAPIKey, "")
	}
	if cfg.OpenAIAPIKey != "" {
		a.Fallback = NewOpenAI(cfg.OpenAIAPIKey, "")
	}
	return a
}

// BuildPrompt assembles the Spanish analysis prompt from whatever fields
// the lead has.
func BuildPrompt(l store.Lead) string {
	company := l.CompanyName
	if company == "" {
		company = "Desconocida"
	}

	var info strings.Builder
	fmt.Fprintf(&info, "Empresa: %s", company)
	if l.City != "" || l.Country != "" {
		fmt.Fprintf(&info, "\nUbicacion: %s, %s", l.City, l.Country)
	}
	if l.Website != "" {
		fmt.Fprintf(&info, "\nWebsite: %s", l.Website)
	}
	if l.Phone != "" {
		fmt.Fprintf(&info, "\nTelefono: %s", l.Phone)
	}
	if l.Snippet != "" {
		fmt.Fprintf(&info, "\nDescripcion (buscador): %s", l.Snippet)
	}
	if l.ScrapedText != "" {
		fmt.Fprintf(&info, "\nContenido del sitio web: %s", l.ScrapedText)
	}

	return fmt.Sprintf(`Eres un consultor experto en automatizacion de negocios. Analiza la siguiente agencia de marketing digital y sugiere formas en las que podrian beneficiarse de la automatizacion.

%s

Basandote en esta informacion:

1. Escribe un resumen de 2-3 frases sobre que hace esta agencia, que servicios ofrece, y quienes son sus clientes probables.

2. Sugiere exactamente 3 automatizaciones especificas y accionables que esta agencia podria implementar o que les podrias vender. Para cada automatizacion:
   - Nombre conciso
   - Explicacion de que hace en 1-2 frases
   - Valor de negocio concreto (tiempo ahorrado, impacto en ingresos, eficiencia)

Enfocate en automatizaciones practicas y realistas: workflows de CRM, secuencias de email automatizadas, reportes automaticos para clientes, lead scoring, onboarding automatizado de clientes, generacion automatica de propuestas, automatizacion de redes sociales, chatbots, integraciones entre herramientas, dashboards en tiempo real, facturacion automatica, etc.

Las automatizaciones deben ser especificas para esta agencia basandote en sus servicios. NO des sugerencias genericas.

Responde UNICAMENTE con este formato JSON valido, sin texto adicional:
{
  "summary": "...",
  "automations": [
    {"name": "...", "description": "...", "value": "..."},
    {"name": "...", "description": "...", "value": "..."},
    {"name": "...", "description": "...", "value": "..."}
  ]
}`, info.String())
}

// AnalyzeLead produces an analysis for one lead. It never fails: when both
// providers are unavailable or return unusable output, the generic
// fallback applies.
func (a *Analyzer) AnalyzeLead(ctx context.Context, l store.Lead) Analysis {
	prompt := BuildPrompt(l)

	for _, p := range []Provider{a.Primary, a.Fallback} {
		if p == nil {
			continue
		}
		text, err := p.Generate(ctx, prompt)
		if err != nil {
			a.Logger.Warn("model call failed",
				zap.String("provider", p.Name()),
				zap.String("company", l.CompanyName),
				zap.Error(err))
			continue
		}
		analysis, ok := parseAnalysis(text)
		if !ok {
			a.Logger.Warn("model returned unusable JSON",
				zap.String("provider", p.Name()),
				zap.String("company", l.CompanyName))
			continue
		}
		return analysis
	}

	return GenericFallback(l)
}

func parseAnalysis(text string) (Analysis, bool) {
	raw, ok := textutil.ExtractJSON(text)
	if !ok {
		return Analysis{}, false
	}
	var a Analysis
	if err := json.Unmarshal(raw, &a); err != nil {
		return Analysis{}, false
	}
	if a.Summary == "" || len(a.Automations) == 0 {
		return Analysis{}, false
	}
	return a, true
}

// GenericFallback builds a canned Spanish analysis from the lead's own
// fields when no model is reachable.
func GenericFallback(l store.Lead) Analysis {
	company := l.CompanyName
	if company == "" {
		company = "Esta agencia"
	}
	summary := fmt.Sprintf("%s es una agencia de marketing digital ubicada en %s, %s.", company, l.City, l.Country)
	if l.Snippet != "" {
		summary += " " + truncate(l.Snippet, 150)
	}
	return Analysis{
		Summary: summary,
		Automations: []Automation{
			{
				Name:        "Automatizacion de reportes para clientes",
				Description: "Sistema automatico que genera y envia reportes mensuales de rendimiento a cada cliente con metricas de campanas, ROI y recomendaciones.",
				Value:       "Ahorra 5-10 horas semanales en generacion manual de reportes y mejora la retencion de clientes.",
			},
			{
				Name:        "Secuencias de email para captacion de leads",
				Description: "Flujo automatizado de emails de seguimiento para prospectos que muestran interes, con contenido personalizado segun la industria del prospecto.",
				Value:       "Aumenta la tasa de conversion de leads en un 20-30% y libera tiempo del equipo comercial.",
			},
			{
				Name:        "Dashboard centralizado en tiempo real",
				Description: "Panel integrado que conecta Google Ads, Meta Ads, Analytics y CRM para visualizar el rendimiento de todas las campanas en un solo lugar.",
				Value:       "Reduccion del 70% en tiempo de recopilacion de datos y toma de decisiones mas rapida basada en datos actualizados.",
			},
		},
	}
}

// Run analyzes every lead that still needs a summary and persists the
// results. It returns the number of leads analyzed.
func (a *Analyzer) Run(ctx context.Context, st *store.Store, limit int) (int, error) {
	if a.Primary == nil && a.Fallback == nil {
		a.Logger.Error("no AI API keys configured, skipping analysis")
		return 0, nil
	}

	leads, err := st.LeadsNeedingAI(limit)
	if err != nil {
		return 0, err
	}
	if len(leads) == 0 {
		a.Logger.Info("no leads need AI analysis")
		return 0, nil
	}
	a.Logger.Info("AI analysis starting", zap.Int("leads", len(leads)))

	analyzed := 0
	for i, lead := range leads {
		analysis := a.AnalyzeLead(ctx, lead)
		suggestions, err := json.Marshal(analysis.Automations)
		if err != nil {
			a.Logger.Warn("encode suggestions failed", zap.Int64("lead", lead.ID), zap.Error(err))
		} else if err := st.UpdateLead(lead.ID, map[string]string{
			"ai_summary":             analysis.Summary,
			"automation_suggestions": string(suggestions),
		}); err != nil {
			a.Logger.Warn("persist analysis failed", zap.Int64("lead", lead.ID), zap.Error(err))
		} else {
			analyzed++
		}

		if a.Delay > 0 && i < len(leads)-1 {
			select {
			case <-ctx.Done():
				return analyzed, ctx.Err()
			case <-time.After(a.Delay):
			}
		}
	}

	a.Logger.Info("AI analysis complete", zap.Int("analyzed", analyzed), zap.Int("total", len(leads)))
	return analyzed, nil
}
