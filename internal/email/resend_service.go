package email

import (
	"fmt"
	"strings"

	"github.com/hypernova-labs/anaf-service/internal/models"
	"github.com/resend/resend-go/v2"
	"github.com/sirupsen/logrus"
)

// maxReportedErrors caps how many sync failures a report spells out.
const maxReportedErrors = 5

// ResendService sends operational reports over the Resend API.
type ResendService struct {
	client    *resend.Client
	fromEmail string
	toEmail   string
	logger    *logrus.Logger
}

// NewResendService creates a new instance of the service.
func NewResendService(apiKey, fromEmail, toEmail string, logger *logrus.Logger) *ResendService {
	if fromEmail == "" {
		fromEmail = "onboarding@resend.dev"
	}
	return &ResendService{
		client:    resend.NewClient(apiKey),
		fromEmail: fromEmail,
		toEmail:   toEmail,
		logger:    logger,
	}
}

// SyncCompleted emails a summary of one reconciliation run.
func (s *ResendService) SyncCompleted(company *models.Company, result *models.SyncResult) error {
	if s.toEmail == "" {
		return nil
	}

	subject := fmt.Sprintf("Sync report for %s (%s)", company.Name, company.CIF)
	if result.HasErrors() {
		subject = fmt.Sprintf("Sync report for %s (%s) - %d errors", company.Name, company.CIF, len(result.Errors))
	}

	var errorSection string
	if result.HasErrors() {
		reported := result.Errors
		truncated := 0
		if len(reported) > maxReportedErrors {
			truncated = len(reported) - maxReportedErrors
			reported = reported[:maxReportedErrors]
		}
		var b strings.Builder
		b.WriteString("<h3>Errors</h3><ul>")
		for _, msg := range reported {
			b.WriteString("<li>")
			b.WriteString(htmlEscape(msg))
			b.WriteString("</li>")
		}
		b.WriteString("</ul>")
		if truncated > 0 {
			fmt.Fprintf(&b, "<p>...and %d more.</p>", truncated)
		}
		errorSection = b.String()
	}

	htmlContent := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Sync Report</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; text-align: center; border-radius: 8px; }
        table { border-collapse: collapse; width: 100%%; margin: 20px 0; }
        td, th { border: 1px solid #ddd; padding: 8px; text-align: left; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Inbox synchronization</h1>
            <p>%s (CIF %s)</p>
        </div>
        <table>
            <tr><th>New invoices</th><td>%d</td></tr>
            <tr><th>Skipped duplicates</th><td>%d</td></tr>
            <tr><th>New clients</th><td>%d</td></tr>
            <tr><th>New products</th><td>%d</td></tr>
        </table>
        %s
    </div>
</body>
</html>`,
		htmlEscape(company.Name),
		htmlEscape(company.CIF),
		result.NewInvoices,
		result.SkippedDuplicates,
		result.NewClients,
		result.NewProducts,
		errorSection)

	request := &resend.SendEmailRequest{
		From:    s.fromEmail,
		To:      []string{s.toEmail},
		Subject: subject,
		Html:    htmlContent,
	}

	sent, err := s.client.Emails.Send(request)
	if err != nil {
		return fmt.Errorf("error sending email via Resend: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"email_id": sent.Id,
		"to":       s.toEmail,
		"subject":  subject,
	}).Info("Sync report sent")

	return nil
}

func htmlEscape(s string) string {
	replacer := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return replacer.Replace(s)
}
