// Package email sends notification email via LUCI Notify.
package email

import (
	"context"
	"html"

	"go.chromium.org/chromite/go/skerr"
	"go.chromium.org/luci/grpc/prpc"
	"go.chromium.org/luci/mailer/api/mailer"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	luciNotifyServiceURL = "notify.api.luci.app"

	// ScopeUserinfoEmail is the OAuth scope required by LUCI Notify.
	ScopeUserinfoEmail = "https://www.googleapis.com/auth/userinfo.email"
)

// Client sends email via LUCI Notify.
type Client interface {
	mailer.MailerClient
}

// NewClient returns a Client instance which sends email via LUCI Notify,
// authenticated with the application default credentials.
func NewClient(ctx context.Context) (Client, error) {
	ts, err := google.DefaultTokenSource(ctx, ScopeUserinfoEmail)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return mailer.NewMailerClient(&prpc.Client{
		C:    oauth2.NewClient(ctx, ts),
		Host: luciNotifyServiceURL,
	}), nil
}

// SendText sends a plain-text message, which is escaped and wrapped in a
// <pre> block so that line breaks survive. Returns the message ID.
func SendText(ctx context.Context, c Client, to []string, subject, body string) (string, error) {
	if len(to) == 0 {
		return "", skerr.Fmt("no recipients for %q", subject)
	}
	req := &mailer.SendMailRequest{
		To:       to,
		Subject:  subject,
		HtmlBody: "<pre>" + html.EscapeString(body) + "</pre>",
	}
	resp, err := c.SendMail(ctx, req)
	if err != nil {
		return "", skerr.Wrapf(err, "sending %q", subject)
	}
	return resp.MessageId, nil
}
