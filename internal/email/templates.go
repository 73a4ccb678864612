package email

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"

	"github.com/kpessa/delphi-webapp/internal/models"
)

const footerHTML = `
        <hr style="border: none; border-top: 1px solid #eee; margin: 20px 0;">
        <p style="color: #999; font-size: 12px;">This is an automated email from Delphi Healthcare Platform. Please do not reply.</p>`

// InvitationEmail builds the invitation to join a panel as an expert
func InvitationEmail(inv *models.PanelInvitation, inviterName, invitationURL string) Message {
	if inviterName == "" {
		inviterName = "A panel administrator"
	}
	panel := html.EscapeString(inv.PanelName)

	body := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Panel Invitation</title>
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <div style="background-color: #2563eb; color: white; padding: 20px; text-align: center; border-radius: 8px 8px 0 0;">
            <h1>Delphi Healthcare Platform</h1>
        </div>
        <h2>You're Invited to Join as an Expert</h2>
        <p>Dear Expert,</p>
        <p>%s has invited you to join the <strong>%s</strong> panel as an expert contributor.</p>
        <p>As an expert panel member, you will:</p>
        <ul>
            <li>Provide anonymous feedback on important healthcare initiatives</li>
            <li>Participate in structured rounds of discussion</li>
            <li>Help reach consensus on critical decisions</li>
            <li>Contribute your expertise to improve healthcare outcomes</li>
        </ul>
        <div style="text-align: center; margin: 30px 0;">
            <a href="%s" style="background-color: #2563eb; color: white; padding: 12px 24px; text-decoration: none; border-radius: 6px; display: inline-block;">Accept Invitation</a>
        </div>
        <p style="font-size: 14px; color: #6b7280;">This invitation will expire in 7 days. If you have any questions, please contact the panel administrator.</p>%s
    </div>
</body>
</html>
`, html.EscapeString(inviterName), panel, html.EscapeString(invitationURL), footerHTML)

	text := fmt.Sprintf(`You're Invited to Join %s as an Expert

Dear Expert,

%s has invited you to join the %s panel as an expert contributor.

As an expert panel member, you will:
- Provide anonymous feedback on important healthcare initiatives
- Participate in structured rounds of discussion
- Help reach consensus on critical decisions
- Contribute your expertise to improve healthcare outcomes

Accept your invitation here: %s

This invitation will expire in 7 days.

This is an automated email from Delphi Healthcare Platform.
`, inv.PanelName, inviterName, inv.PanelName, invitationURL)

	return Message{
		To:      inv.Email,
		Subject: fmt.Sprintf("Invitation to join %s as an Expert", inv.PanelName),
		HTML:    body,
		Text:    text,
	}
}

// NotificationEmail builds the immediate email for a single notification
func NotificationEmail(to string, n *models.Notification, appURL string) Message {
	link := notificationLink(n, appURL)
	extra := ""
	if summary := roundSummary(n); summary != "" {
		extra = `
        <div style="background-color: #f9fafb; border-left: 4px solid #2563eb; padding: 15px; margin: 20px 0;">
            <p style="margin: 0 0 10px 0;"><strong>Round summary</strong></p>
            ` + RenderMarkdown(summary) + `
        </div>`
	}

	body := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>%s</title>
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #2563eb;">%s</h2>
        <p>%s</p>%s
        <div style="text-align: center; margin: 30px 0;">
            <a href="%s" style="background-color: #2563eb; color: white; padding: 12px 30px; text-decoration: none; border-radius: 5px; display: inline-block;">Open Delphi</a>
        </div>%s
    </div>
</body>
</html>
`, html.EscapeString(n.Title), html.EscapeString(n.Title), html.EscapeString(n.Message), extra, html.EscapeString(link), footerHTML)

	return Message{
		To:      to,
		Subject: n.Title,
		HTML:    body,
		Text:    fmt.Sprintf("%s\n\n%s\n\n%s\n", n.Title, n.Message, link),
	}
}

// DigestEmail builds one email covering all queued entries of a user.
// Times are rendered relative to now.
func DigestEmail(to string, entries []models.DigestEntry, appURL string, now time.Time) Message {
	period := "Daily"
	for _, e := range entries {
		if e.Frequency == models.EmailWeekly {
			period = "Weekly"
			break
		}
	}

	var rows, text strings.Builder
	for _, e := range entries {
		when := humanize.RelTime(e.CreatedAt, now, "ago", "from now")
		rows.WriteString(fmt.Sprintf(`
            <tr style="border-bottom: 1px solid #eee;">
                <td style="padding: 12px 8px;"><strong>%s</strong><br><span style="color: #555;">%s</span></td>
                <td style="padding: 12px 8px; color: #999; white-space: nowrap;">%s</td>
            </tr>`, html.EscapeString(e.Title), html.EscapeString(e.Message), when))
		text.WriteString(fmt.Sprintf("- %s (%s)\n  %s\n", e.Title, when, e.Message))
	}

	subject := fmt.Sprintf("%s Delphi digest: %s", period, pluralize(len(entries), "update"))

	body := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>%s</title>
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 700px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #2563eb;">%s</h2>
        <p>Here is what happened on your panels:</p>
        <table style="width: 100%%; border-collapse: collapse; margin: 20px 0;">
            <tbody>%s
            </tbody>
        </table>
        <div style="text-align: center; margin: 30px 0;">
            <a href="%s/notifications" style="background-color: #2563eb; color: white; padding: 12px 30px; text-decoration: none; border-radius: 5px; display: inline-block;">View all notifications</a>
        </div>%s
    </div>
</body>
</html>
`, html.EscapeString(subject), html.EscapeString(subject), rows.String(), html.EscapeString(appURL), footerHTML)

	return Message{
		To:      to,
		Subject: subject,
		HTML:    body,
		Text:    subject + "\n\n" + text.String() + "\n" + appURL + "/notifications\n",
	}
}

// RenderMarkdown converts AI-written markdown to HTML, dropping raw HTML in the source
func RenderMarkdown(md string) string {
	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags | mdhtml.SkipHTML})
	return string(markdown.ToHTML([]byte(md), nil, renderer))
}

func notificationLink(n *models.Notification, appURL string) string {
	payload, err := models.DecodePayload(n.Type, []byte(n.Data))
	if err != nil {
		return appURL
	}
	if topicID := models.TopicIDOf(payload); topicID != "" {
		return appURL + "/topics/" + topicID
	}
	if p, ok := payload.(*models.InvitationPayload); ok {
		return appURL + "/panels/" + p.PanelID
	}
	return appURL
}

func roundSummary(n *models.Notification) string {
	if n.Type != models.NotificationRoundClosed {
		return ""
	}
	payload, err := models.DecodePayload(n.Type, []byte(n.Data))
	if err != nil {
		return ""
	}
	return payload.(*models.RoundClosedPayload).Summary
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return humanize.Comma(int64(n)) + " " + noun + "s"
}
