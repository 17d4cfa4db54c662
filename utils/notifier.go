package utils

import (
	"bytes"
	"html/template"
	"strings"

	"courier/models"
)

// notificationTemplate renders the new-lead email sent to a list owner.
var notificationTemplate = template.Must(template.New("new_lead").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>New subscriber</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { color: #2c3e50; border-bottom: 1px solid #eee; padding-bottom: 10px; }
        table { border-collapse: collapse; width: 100%; margin: 20px 0; }
        td { padding: 8px 12px; border-bottom: 1px solid #eee; }
        td:first-child { font-weight: bold; color: #7f8c8d; width: 120px; }
        .footer { margin-top: 30px; font-size: 12px; color: #7f8c8d; text-align: center; }
    </style>
</head>
<body>
    <div class="header">
        <h2>New subscriber on {{.ListName}}</h2>
    </div>

    <table>
        <tr><td>Email</td><td>{{.Email}}</td></tr>
        {{if .Name}}<tr><td>Name</td><td>{{.Name}}</td></tr>{{end}}
        {{if .Source}}<tr><td>Source</td><td>{{.Source}}</td></tr>{{end}}
        {{if .Funnel}}<tr><td>Funnel</td><td>{{.Funnel}}</td></tr>{{end}}
        {{if .Segment}}<tr><td>Segment</td><td>{{.Segment}}</td></tr>{{end}}
        {{if .Tags}}<tr><td>Tags</td><td>{{.Tags}}</td></tr>{{end}}
        {{range $k, $v := .Metadata}}<tr><td>{{$k}}</td><td>{{$v}}</td></tr>{{end}}
    </table>

    <div class="footer">
        <p>Sent by Courier</p>
    </div>
</body>
</html>`))

// LeadNotifier emails list owners about new subscribers.
type LeadNotifier struct {
	Mailer *Mailer
}

func NewLeadNotifier(mailer *Mailer) *LeadNotifier {
	return &LeadNotifier{Mailer: mailer}
}

func (n *LeadNotifier) NotifyNewLead(list *models.List, lead *models.Lead, sub *models.Subscription) error {
	if list.NotifyEmail == nil || *list.NotifyEmail == "" {
		return nil
	}

	data := struct {
		ListName string
		Email    string
		Name     string
		Source   string
		Funnel   string
		Segment  string
		Tags     string
		Metadata map[string]string
	}{
		ListName: list.Name,
		Email:    lead.Email,
		Tags:     strings.Join(lead.TagList(), ", "),
		Metadata: lead.MetadataMap(),
	}
	if lead.Name != nil {
		data.Name = *lead.Name
	}
	if sub.Source != nil {
		data.Source = *sub.Source
	}
	if sub.Funnel != nil {
		data.Funnel = *sub.Funnel
	}
	if lead.Segment != nil {
		data.Segment = *lead.Segment
	}

	var body bytes.Buffer
	if err := notificationTemplate.Execute(&body, data); err != nil {
		return err
	}

	from := ""
	if list.FromEmail != nil {
		from = *list.FromEmail
	}
	return n.Mailer.Send(*list.NotifyEmail, "New subscriber: "+lead.Email, body.String(), from)
}
