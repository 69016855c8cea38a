// Package gmailsync imports recent Gmail inbox activity for users who
// connected their mailbox.
package gmailsync

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Message is one inbox message with the metadata headers the sync records.
type Message struct {
	ID           string
	Snippet      string
	HistoryID    string
	InternalDate string
	Subject      string
	From         string
	ReceivedAt   string
}

// Lister fetches recent inbox messages for one access token.
type Lister interface {
	ListRecent(ctx context.Context, accessToken string, maxMessages int) ([]Message, error)
}

// GmailLister reads the inbox through the Gmail API using metadata-format
// fetches, so message bodies never leave Google.
type GmailLister struct{}

func (GmailLister) ListRecent(ctx context.Context, accessToken string, maxMessages int) ([]Message, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	service, err := gmail.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	list, err := service.Users.Messages.List("me").
		MaxResults(int64(maxMessages)).
		Q("label:inbox").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list gmail messages: %w", err)
	}

	var messages []Message
	for _, ref := range list.Messages {
		detail, err := service.Users.Messages.Get("me", ref.Id).
			Format("metadata").
			MetadataHeaders("Subject", "From", "Date").
			Context(ctx).Do()
		if err != nil {
			log.Printf("gmail: fetch message %s: %v", ref.Id, err)
			continue
		}

		message := Message{
			ID:           detail.Id,
			Snippet:      detail.Snippet,
			HistoryID:    strconv.FormatUint(detail.HistoryId, 10),
			InternalDate: strconv.FormatInt(detail.InternalDate, 10),
		}
		if detail.Payload != nil {
			for _, header := range detail.Payload.Headers {
				switch strings.ToLower(header.Name) {
				case "subject":
					message.Subject = header.Value
				case "from":
					message.From = header.Value
				case "date":
					message.ReceivedAt = header.Value
				}
			}
		}
		messages = append(messages, message)
	}
	return messages, nil
}
