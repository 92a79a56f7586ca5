package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// FCMSender pushes through Firebase Cloud Messaging.
type FCMSender struct {
	client *messaging.Client
}

// NewFCMSender initialises Firebase from a service account file.
func NewFCMSender(ctx context.Context, credentialsFile string) (*FCMSender, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("firebase init: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging: %w", err)
	}
	return &FCMSender{client: client}, nil
}

func (s *FCMSender) Name() string {
	return "fcm"
}

func (s *FCMSender) Send(ctx context.Context, token string, msg Message) error {
	_, err := s.client.Send(ctx, &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
	})
	if err != nil {
		// A stale token means the registration no longer reaches anyone.
		if messaging.IsUnregistered(err) {
			return fmt.Errorf("%w: %v", ErrDeliveryUnavailable, err)
		}
		return err
	}
	return nil
}

// LogSender writes notifications to the log instead of delivering them. It
// is used when no push credentials are configured.
type LogSender struct {
	logger logrus.FieldLogger
}

func NewLogSender(logger logrus.FieldLogger) *LogSender {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogSender{logger: logger.WithField("component", "notify")}
}

func (s *LogSender) Name() string {
	return "log"
}

func (s *LogSender) Send(_ context.Context, token string, msg Message) error {
	s.logger.WithFields(logrus.Fields{
		"token":    token,
		"title":    msg.Title,
		"severity": msg.Severity,
		"data":     msg.Data,
	}).Info(msg.Body)
	return nil
}
