// Package notify delivers batch-completion notifications.
package notify

import (
	"fmt"

	"github.com/hochfrequenz/ci-collect/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title     string
	Message   string
	Type      NotificationType
	BatchID   string // Optional history batch reference
	OutputDir string // Optional output directory
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// ForManifest builds the completion notification for a finished batch.
func ForManifest(m *domain.Manifest) Notification {
	failures := m.Failures()

	typ := NotifySuccess
	if failures > 0 {
		typ = NotifyWarning
	}
	if len(m.Items) > 0 && failures == len(m.Items) {
		typ = NotifyError
	}

	return Notification{
		Title: "Artifact collection finished",
		Message: fmt.Sprintf("%d repositories, %d downloads ok, %d failures",
			len(m.Items), m.DownloadsOK(), failures),
		Type: typ,
	}
}
