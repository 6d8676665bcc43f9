package main

import (
	"context"
	"fmt"
	"html"
	"strings"

	"civicreport/libs/mailer"
)

// notifyStatusChange e-mails the reporter after a committed transition that
// actually changed the status. Delivery happens in the background.
func (a *App) notifyStatusChange(result statusTransitionResult) {
	if a.mailer == nil || !result.changed() || result.ReporterEmail == nil {
		return
	}
	a.background(func(ctx context.Context) {
		sent, err := a.sendStatusNotification(ctx, result)
		if err != nil {
			a.log.Error("status notification failed", "issue_id", result.IssueID, "err", err)
			return
		}
		a.log.Info("status notification sent", "issue_id", result.IssueID, "status", result.NewStatus, "message_id", sent.ProviderMessageID)
	})
}

func (a *App) sendStatusNotification(ctx context.Context, result statusTransitionResult) (mailer.SendResult, error) {
	msg := buildStatusNotification(result, a.issueURL(result.IssueID))
	return a.mailer.Send(ctx, msg)
}

func (a *App) issueURL(issueID int) string {
	if a.cfg.PublicBaseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/issues/%d", a.cfg.PublicBaseURL, issueID)
}

func statusLabel(status string) string {
	if label, ok := issueStatusLabels[status]; ok {
		return label
	}
	return status
}

func buildStatusNotification(result statusTransitionResult, link string) mailer.Message {
	label := statusLabel(result.NewStatus)
	subject := fmt.Sprintf("Your report #%d is now %s", result.IssueID, strings.ToLower(label))

	var text strings.Builder
	fmt.Fprintf(&text, "Hello,\n\nThe status of your report #%d changed from %s to %s.\n", result.IssueID, statusLabel(result.PreviousStatus), label)
	if result.Notes != nil {
		fmt.Fprintf(&text, "\nNotes from the city:\n%s\n", *result.Notes)
	}
	if link != "" {
		fmt.Fprintf(&text, "\nFollow the report: %s\n", link)
	}
	text.WriteString("\nThank you for helping improve your neighbourhood.\n")

	var body strings.Builder
	fmt.Fprintf(&body, "<p>Hello,</p><p>The status of your report <strong>#%d</strong> changed from %s to <strong>%s</strong>.</p>",
		result.IssueID, html.EscapeString(statusLabel(result.PreviousStatus)), html.EscapeString(label))
	if result.Notes != nil {
		fmt.Fprintf(&body, "<p>Notes from the city:</p><blockquote>%s</blockquote>", html.EscapeString(*result.Notes))
	}
	if link != "" {
		fmt.Fprintf(&body, `<p><a href="%s">Follow the report</a></p>`, html.EscapeString(link))
	}
	body.WriteString("<p>Thank you for helping improve your neighbourhood.</p>")

	return mailer.Message{
		To:      []string{*result.ReporterEmail},
		Subject: subject,
		HTML:    body.String(),
		Text:    text.String(),
	}
}
