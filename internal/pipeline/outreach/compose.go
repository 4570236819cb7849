// Package outreach generates and delivers personalized cold emails: an AI
// composer, a GMass transport, a Gmail SMTP transport, and the stage
// runners for initial sends and followups.
package outreach

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/acem-systems/agentd/internal/pipeline/ai"
	"github.com/acem-systems/agentd/internal/pipeline/config"
	"github.com/acem-systems/agentd/internal/pipeline/store"
	"github.com/acem-systems/agentd/internal/pipeline/textutil"
)

// Email kinds.
const (
	KindInitial  = "initial"
	KindFollowup = "followup"
)

// EmailInput is the lead data the composer personalizes from.
type EmailInput struct {
	CompanyName           string
	ContactName           string
	City                  string
	Country               string
	AISummary             string
	AutomationSuggestions string
}

// InputFromLead adapts a lead row.
func InputFromLead(l store.Lead) EmailInput {
	return EmailInput{
		CompanyName:           l.CompanyName,
		ContactName:           l.ContactName,
		City:                  l.City,
		Country:               l.Country,
		AISummary:             l.AISummary,
		AutomationSuggestions: l.AutomationSuggestions,
	}
}

// InputFromFollowup adapts a followup candidate.
func InputFromFollowup(c store.FollowupCandidate) EmailInput {
	return EmailInput{
		CompanyName:           c.CompanyName,
		ContactName:           c.ContactName,
		AISummary:             c.AISummary,
		AutomationSuggestions: c.AutomationSuggestions,
	}
}

// EmailContent is a composed email, plain and HTML.
type EmailContent struct {
	Subject  string
	Body     string
	HTMLBody string
}

// Composer writes personalized emails with AI, falling back to templates.
type Composer struct {
	Primary  ai.Provider
	Fallback ai.Provider
	Logger   *zap.Logger
}

// NewComposer wires providers from the configured API keys with the
// creative-writing sampling settings.
func NewComposer(cfg config.Config, logger *zap.Logger) *Composer {
	c := &Composer{Logger: logger}
	if cfg.GeminiAPIKey != "" {
		g := ai.NewGemini(cfg.GeminiAPIKey, "")
		g.Temperature = 0.8
		g.MaxTokens = 800
		c.Primary = g
	}
	if cfg.OpenAIAPIKey != "" {
		o := ai.NewOpenAI(cfg.OpenAIAPIKey, "")
		o.Temperature = 0.8
		o.MaxTokens = 800
		o.SystemPrompt = "Eres un experto en copywriting de emails de ventas B2B. Responde siempre en espanol y en JSON valido."
		c.Fallback = o
	}
	return c
}

func automationLines(raw string) string {
	if raw == "" {
		return ""
	}
	var autos []ai.Automation
	if err := json.Unmarshal([]byte(raw), &autos); err != nil {
		return ""
	}
	var sb strings.Builder
	for i, a := range autos {
		if i >= 3 {
			break
		}
		fmt.Fprintf(&sb, "- %s: %s (Beneficio: %s)\n", a.Name, a.Description, a.Value)
	}
	return sb.String()
}

func greetingHint(contactName string) string {
	if contactName != "" {
		return "Saludo: Hola " + strings.Fields(contactName)[0]
	}
	return "Saludo: Hola (sin nombre, usar saludo generico profesional)"
}

// BuildEmailPrompt assembles the Spanish generation prompt for an initial
// or followup email.
func BuildEmailPrompt(in EmailInput, kind string) string {
	company := in.CompanyName
	if company == "" {
		company = "tu empresa"
	}

	if kind == KindFollowup {
		return fmt.Sprintf(`Eres un experto en emails de seguimiento de ventas B2B.

CONTEXTO:
- Ya enviaste un email inicial a %s hace 3 dias
- No han respondido
- El email anterior hablaba sobre automatizacion para su agencia de marketing
- %s

TU OBJETIVO:
Escribir un email de seguimiento corto que:
1. NO repita el email anterior
2. Aporte valor adicional (un tip, una estadistica, un caso de uso)
3. Sea aun mas corto que el primero (maximo 80 palabras)
4. Mantenga el tono amigable, no desesperado
5. Termine con una pregunta simple de si/no

REGLAS:
- NO digas "solo queria hacer seguimiento" o "no se si viste mi email"
- Aporta algo nuevo de valor
- Tono casual pero profesional
- Subject que genere curiosidad (maximo 5 palabras)
- TODO en espanol

FIRMA:
Luka

Responde UNICAMENTE con este formato JSON:
{
  "subject": "...",
  "body": "..."
}`, company, greetingHint(in.ContactName))
	}

	autos := automationLines(in.AutomationSuggestions)
	if autos == "" {
		autos = "- Automatizacion de procesos de marketing y ventas\n"
	}

	return fmt.Sprintf(`Eres un experto en copywriting de emails de ventas B2B. Tu trabajo es escribir emails de prospeccion que generen respuestas.

CONTEXTO DEL LEAD:
- Empresa: %s
- Ubicacion: %s, %s
- %s
- Resumen de la empresa: %s
- Automatizaciones que les beneficiarian:
%s
ESTRUCTURA OBLIGATORIA DEL EMAIL (sigue este orden exacto):

1. Saludo: "Hola [nombre],"
2. Observacion de crecimiento: "Vi que en [empresa] estan creciendo en el sector de [su industria/especialidad]. Felicidades por el avance!"
   - Usa el resumen de la empresa para identificar su industria o especialidad concreta (ej: "marketing digital", "publicidad programatica", "branding para startups")
3. Automatizaciones sugeridas: Presenta las 3 automatizaciones de forma natural, breve y fluida. Puedes usar una mini-lista informal o integrarlas en un parrafo corto.
4. Propuesta de valor: "Nosotros ayudamos a empresas como la tuya a automatizar esos flujos repetitivos. Basicamente, conectamos tus herramientas para que trabajen solas."
5. Prueba social: "Recientemente ayudamos a [tipo de empresa similar, ej: 'una agencia de marketing en Madrid'] a ahorrar X horas a la semana automatizando [proceso relevante]."
   - Inventa un caso creible y relevante basado en su tipo de negocio. Varia el numero de horas (10-20) y el proceso segun las automatizaciones sugeridas.
6. CTA: "Que tan abierto estas a explorar este tipo de soluciones?"
7. Firma (siempre exactamente asi):
   Luka Radeljak
   Consultor de Automatizacion
   ACEM Systems

REGLAS DEL SUBJECT:
- Formato: "Ahorren X horas semanales con ACEM Systems"
- X = un numero estimado de horas que ahorrarian (entre 8 y 20, basado en las automatizaciones sugeridas)

REGLAS GENERALES:
- Maximo 150 palabras en el cuerpo
- Tono cercano, directo, profesional
- TODO en espanol
- NO uses frases genericas como "espero que estes bien"
- Si no tienes nombre del contacto, usa solo "Hola,"

Responde UNICAMENTE con este formato JSON:
{
  "subject": "...",
  "body": "..."
}

El body debe ser texto plano con saltos de linea (\n), NO HTML.`,
		company, in.City, in.Country, greetingHint(in.ContactName), in.AISummary, autos)
}

// Compose generates an email for a lead. Never fails: when both providers
// are unavailable or return unusable output, the template fallback applies.
func (c *Composer) Compose(ctx context.Context, in EmailInput, kind string) EmailContent {
	prompt := BuildEmailPrompt(in, kind)

	for _, p := range []ai.Provider{c.Primary, c.Fallback} {
		if p == nil {
			continue
		}
		text, err := p.Generate(ctx, prompt)
		if err != nil {
			c.Logger.Warn("email generation failed",
				zap.String("provider", p.Name()), zap.String("company", in.CompanyName), zap.Error(err))
			continue
		}
		if content, ok := parseEmail(text); ok {
			return content
		}
		c.Logger.Warn("email generation returned unusable JSON",
			zap.String("provider", p.Name()), zap.String("company", in.CompanyName))
	}

	return templateEmail(in, kind)
}

func parseEmail(text string) (EmailContent, bool) {
	raw, ok := textutil.ExtractJSON(text)
	if !ok {
		return EmailContent{}, false
	}
	var parsed struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.Subject == "" || parsed.Body == "" {
		return EmailContent{}, false
	}
	return formatEmail(parsed.Subject, parsed.Body), true
}

func formatEmail(subject, body string) EmailContent {
	html := strings.ReplaceAll(body, "\n", "<br>\n")
	return EmailContent{
		Subject: subject,
		Body:    body,
		HTMLBody: `<div style="font-family: Arial, sans-serif; font-size: 14px; line-height: 1.6; color: #333;">` +
			"\n" + html + "\n</div>",
	}
}

func templateEmail(in EmailInput, kind string) EmailContent {
	company := in.CompanyName
	if company == "" {
		company = "tu agencia"
	}
	greeting := "Hola,"
	if in.ContactName != "" {
		greeting = "Hola " + strings.Fields(in.ContactName)[0] + ","
	}

	if kind == KindFollowup {
		body := greeting + `

Dato curioso: las agencias que automatizan sus reportes retienen un 23% mas de clientes.

La razon? Los clientes reciben updates consistentes sin que el equipo tenga que dedicar horas.

Tienes 15 minutos esta semana para una llamada rapida?

Luka`
		return formatEmail("Una idea rapida", body)
	}

	body := greeting + `

Vi que en ` + company + ` estan creciendo en el sector de marketing digital. Felicidades por el avance!

Algunas automatizaciones que podrian ayudarles: reportes automaticos para clientes, secuencias de email para captacion de leads y dashboards centralizados de metricas.

Nosotros ayudamos a empresas como la tuya a automatizar esos flujos repetitivos. Basicamente, conectamos tus herramientas para que trabajen solas.

Recientemente ayudamos a una agencia de marketing similar a ahorrar 15 horas a la semana automatizando sus reportes.

Que tan abierto estas a explorar este tipo de soluciones?

Luka Radeljak
Consultor de Automatizacion
` + config.SenderCompany
	return formatEmail("Ahorren 15 horas semanales con "+config.SenderCompany, body)
}
