package report

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/acem-systems/agentd/internal/pipeline/ai"
	"github.com/acem-systems/agentd/internal/pipeline/store"
)

// Subject returns the report subject line for a run date.
func Subject(runDate string, count int) string {
	return fmt.Sprintf("Informe Diario de Leads - %s - %d Agencias de Marketing", runDate, count)
}

func topAutomation(raw string) string {
	if raw == "" {
		return ""
	}
	var autos []ai.Automation
	if err := json.Unmarshal([]byte(raw), &autos); err != nil || len(autos) == 0 {
		return ""
	}
	return autos[0].Name
}

func leadCard(l store.Lead, shaded bool) string {
	company := l.CompanyName
	if company == "" {
		company = "Sin nombre"
	}
	summary := l.AISummary
	if summary == "" {
		summary = "Sin resumen disponible."
	}
	email := l.Email
	if email == "" {
		email = "No encontrado"
	}
	location := l.Country
	if l.City != "" {
		location = l.City + ", " + l.Country
	}

	websiteLink := ""
	if l.Website != "" {
		websiteLink = fmt.Sprintf(
			`<a href="%s" style="color:#0563C1;text-decoration:none;font-size:12px;">%s</a>`,
			html.EscapeString(l.Website), html.EscapeString(l.Website))
	}

	autoTag := ""
	if top := topAutomation(l.AutomationSuggestions); top != "" {
		autoTag = fmt.Sprintf(`
        <div style="margin-top:8px;padding:6px 10px;background:#EEF4FF;border-left:3px solid #3B82F6;border-radius:2px;">
            <span style="font-size:11px;color:#1E40AF;">💡 Automatizacion sugerida:</span>
            <span style="font-size:12px;color:#1E3A5F;font-weight:600;">%s</span>
        </div>`, html.EscapeString(top))
	}

	shade := ""
	if shaded {
		shade = "background:#FAFBFC;"
	}

	return fmt.Sprintf(`
    <div style="padding:16px 20px;border-bottom:1px solid #E5E7EB;%s">
        <div style="font-size:15px;font-weight:700;color:#1B3A5C;margin-bottom:4px;">%s</div>
        <div style="font-size:12px;color:#6B7280;margin-bottom:6px;">📍 %s &nbsp;|&nbsp; ✉️ %s</div>
        <div style="font-size:13px;color:#374151;line-height:1.5;margin-top:4px;">%s</div>
        %s
        %s
    </div>`,
		shade, html.EscapeString(company), html.EscapeString(location),
		html.EscapeString(email), html.EscapeString(summary), websiteLink, autoTag)
}

// BuildEmailBody renders the daily report as a standalone HTML document.
func BuildEmailBody(leads []store.Lead, runDate string) string {
	count := len(leads)
	withEmail := 0
	var cards strings.Builder
	for i, l := range leads {
		if l.Email != "" {
			withEmail++
		}
		cards.WriteString(leadCard(l, i%2 == 0))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="margin:0;padding:0;font-family:'Segoe UI',Roboto,Helvetica,Arial,sans-serif;background:#F3F4F6;">
    <div style="max-width:700px;margin:20px auto;background:#FFFFFF;border-radius:8px;overflow:hidden;box-shadow:0 1px 3px rgba(0,0,0,0.1);">

        <div style="background:linear-gradient(135deg,#1B3A5C,#2563EB);padding:24px 28px;color:white;">
            <div style="font-size:22px;font-weight:700;margin-bottom:4px;">📊 Informe Diario de Leads</div>
            <div style="font-size:14px;opacity:0.9;">%s &nbsp;|&nbsp; %d agencias de marketing digital</div>
        </div>

        <div style="display:flex;background:#F0F4FF;padding:12px 28px;border-bottom:1px solid #E5E7EB;">
            <div style="flex:1;text-align:center;">
                <div style="font-size:20px;font-weight:700;color:#1B3A5C;">%d</div>
                <div style="font-size:11px;color:#6B7280;">Leads totales</div>
            </div>
            <div style="flex:1;text-align:center;">
                <div style="font-size:20px;font-weight:700;color:#059669;">%d</div>
                <div style="font-size:11px;color:#6B7280;">Con email</div>
            </div>
            <div style="flex:1;text-align:center;">
                <div style="font-size:20px;font-weight:700;color:#2563EB;">%d</div>
                <div style="font-size:11px;color:#6B7280;">Automatizaciones</div>
            </div>
        </div>

        <div>
            %s
        </div>

        <div style="padding:20px 28px;background:#F9FAFB;border-top:1px solid #E5E7EB;">
            <div style="font-size:13px;color:#6B7280;text-align:center;">
                📎 Detalles completos con las 3 automatizaciones por empresa en el <strong>adjunto</strong>.
            </div>
            <div style="font-size:11px;color:#9CA3AF;text-align:center;margin-top:8px;">
                Generado automaticamente por el Pipeline de Lead Generation &amp; Enrichment
            </div>
        </div>

    </div>
</body>
</html>`, runDate, count, count, withEmail, count*3, cards.String())
}
