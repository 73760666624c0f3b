package services

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/k3a/html2text"
)

const digestHTML = `<p>Hi,</p>
<p>These benefits reset soon. Use them before they expire.</p>
{{range .Sections}}<h2>{{.Section.Title}}</h2>
<ul>
{{range .Items}}<li><strong>{{.BenefitName}}</strong> ({{.CardName}}){{if gt .Value 0.0}} worth {{money .Value}}{{end}}{{if .Notes}}<br>{{.Notes}}{{end}}</li>
{{end}}</ul>
{{end}}<p>You are receiving this because reminders are turned on for these benefits.</p>
`

var digestTemplate = template.Must(template.New("digest").
	Funcs(template.FuncMap{"money": formatMoney}).
	Parse(digestHTML))

// RenderedDigest is the email body for one user's digest
type RenderedDigest struct {
	Subject   string
	HTML      string
	PlainText string
}

// RenderDigest renders the populated sections of d in section order
func RenderDigest(d UserDigest) (RenderedDigest, error) {
	var buf bytes.Buffer
	if err := digestTemplate.Execute(&buf, d); err != nil {
		return RenderedDigest{}, fmt.Errorf("failed to render digest for %s: %w", d.UserID, err)
	}

	html := buf.String()
	return RenderedDigest{
		Subject:   digestSubject(d),
		HTML:      html,
		PlainText: strings.TrimSpace(html2text.HTML2Text(html)),
	}, nil
}

func digestSubject(d UserDigest) string {
	n := d.ItemCount()
	if n == 1 {
		return "1 card benefit resets soon"
	}
	return fmt.Sprintf("%d card benefits reset soon", n)
}

func formatMoney(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}
