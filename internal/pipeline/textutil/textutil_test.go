package textutil

import (
	"reflect"
	"strings"
	"testing"

	"github.com/acem-systems/agentd/internal/pipeline/config"
)

func TestCleanEmail(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  Info@Acme.ES ", "info@acme.es"},
		{"luis.perez+x@agencia.com.mx", "luis.perez+x@agencia.com.mx"},
		{"not-an-email", ""},
		{"a@b", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := CleanEmail(tc.in); got != tc.want {
			t.Errorf("CleanEmail(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestExtractEmailsDeduplicates(t *testing.T) {
	text := "Escribe a Info@acme.es o a ventas@acme.es. Tambien info@acme.es."
	got := ExtractEmails(text)
	want := []string{"info@acme.es", "ventas@acme.es"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractEmails = %v, want %v", got, want)
	}
}

func TestExtractDomain(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://www.acme.es/contacto", "acme.es"},
		{"acme.es", "acme.es"},
		{"http://Sub.Agencia.MX", "sub.agencia.mx"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := ExtractDomain(tc.in); got != tc.want {
			t.Errorf("ExtractDomain(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIsExcludedDomain(t *testing.T) {
	if !IsExcludedDomain("https://www.linkedin.com/company/acme", config.ExcludedDomains) {
		t.Error("linkedin.com not excluded")
	}
	if IsExcludedDomain("https://acme.es", config.ExcludedDomains) {
		t.Error("acme.es wrongly excluded")
	}
	if !IsExcludedDomain("", config.ExcludedDomains) {
		t.Error("empty URL must be excluded")
	}
}

func TestPrioritizeEmails(t *testing.T) {
	in := []string{
		"noreply@acme.es",
		"info@acme.es",
		"maria@acme.es",
		"support@acme.es",
		"ventas@acme.es",
	}
	got := PrioritizeEmails(in)
	want := []string{
		"maria@acme.es",
		"info@acme.es",
		"ventas@acme.es",
		"noreply@acme.es",
		"support@acme.es",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PrioritizeEmails = %v, want %v", got, want)
	}
}

func TestExtractPhone(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"Llamanos al +34 91 123 4567 hoy", true},
		{"Tel: (91) 123 4567", true},
		{"solo texto sin numeros", false},
		{"corto 12 34", false},
	}
	for _, tc := range cases {
		got := ExtractPhone(tc.in)
		if tc.ok && got == "" {
			t.Errorf("ExtractPhone(%q) found nothing", tc.in)
		}
		if !tc.ok && got != "" {
			t.Errorf("ExtractPhone(%q) = %q, want none", tc.in, got)
		}
	}
}

func TestSanitizeText(t *testing.T) {
	html := "<html><body><h1>Agencia</h1><p>Hacemos  marketing digital.</p>" +
		"<p>We use cookie banners everywhere.</p></body></html>"
	got := SanitizeText(html, 1000)
	if got == "" {
		t.Fatal("sanitized text empty")
	}
	if containsFold(got, "<p>") {
		t.Errorf("tags survived: %q", got)
	}
	if containsFold(got, "cookie") {
		t.Errorf("boilerplate survived: %q", got)
	}

	long := SanitizeText("palabra "+strings.Repeat("relleno ", 300), 100)
	if len(long) > 110 {
		t.Errorf("truncation failed, len = %d", len(long))
	}
}

func TestExtractJSON(t *testing.T) {
	want := `{"summary": "ok"}`
	cases := []string{
		want,
		"```json\n" + want + "\n```",
		"```\n" + want + "\n```",
		"Claro, aqui tienes: " + want + " espero que sirva",
	}
	for _, in := range cases {
		raw, ok := ExtractJSON(in)
		if !ok {
			t.Errorf("ExtractJSON(%q) failed", in)
			continue
		}
		if string(raw) != want {
			t.Errorf("ExtractJSON(%q) = %q", in, raw)
		}
	}

	if _, ok := ExtractJSON("no json here"); ok {
		t.Error("ExtractJSON accepted garbage")
	}
	if _, ok := ExtractJSON(""); ok {
		t.Error("ExtractJSON accepted empty input")
	}
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
