// Package alerts notifies the toolchain oncall about profiles which need
// attention.
package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hako/durafmt"
	"go.chromium.org/chromite/go/email"
	"go.chromium.org/chromite/go/sklog"
)

// Alert is a single notification.
type Alert struct {
	Subject string
	Body    string
}

// Alerter delivers alerts.
type Alerter interface {
	Send(ctx context.Context, a Alert) error
}

// EmailAlerter sends alerts by email.
type EmailAlerter struct {
	client     email.Client
	recipients []string
}

// NewEmailAlerter returns an Alerter which mails the given recipients.
func NewEmailAlerter(client email.Client, recipients []string) *EmailAlerter {
	return &EmailAlerter{client: client, recipients: recipients}
}

// Send implements Alerter.
func (e *EmailAlerter) Send(ctx context.Context, a Alert) error {
	id, err := email.SendText(ctx, e.client, e.recipients, a.Subject, a.Body)
	if err != nil {
		return err
	}
	sklog.Infof("Sent alert %q as message %s", a.Subject, id)
	return nil
}

// LogAlerter logs alerts and keeps them for inspection. Used when no mail
// credentials are available, and in tests.
type LogAlerter struct {
	mtx  sync.Mutex
	sent []Alert
}

// Send implements Alerter.
func (l *LogAlerter) Send(_ context.Context, a Alert) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	sklog.Warningf("ALERT: %s\n%s", a.Subject, a.Body)
	l.sent = append(l.sent, a)
	return nil
}

// Sent returns the alerts sent so far.
func (l *LogAlerter) Sent() []Alert {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	rv := make([]Alert, len(l.sent))
	copy(rv, l.sent)
	return rv
}

// KernelProfileExpiring builds the alert for a kernel profile which is close
// to being too old to verify.
func KernelProfileExpiring(kver, profilePath string, ageDays int) Alert {
	age := durafmt.Parse(time.Duration(ageDays) * 24 * time.Hour).LimitFirstN(2).String()
	return Alert{
		Subject: fmt.Sprintf("[Test Async builder] Kernel AutoFDO profile too old for kernel %s", kver),
		Body: fmt.Sprintf("The latest AutoFDO profile is too old for the kernel %s.\n"+
			"Path=%s.\n"+
			"Age=%s.\n"+
			"Check if this is a known bug in the \"AutoFDO profile generation for kernel\" component or contact the cwp-team@google.com.",
			kver, profilePath, age),
	}
}

var _ Alerter = (*EmailAlerter)(nil)
var _ Alerter = (*LogAlerter)(nil)
