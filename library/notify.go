package library

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// NoticeKind tells the recipient what happened.
type NoticeKind string

const (
	NoticeItemBorrowed     NoticeKind = "item_borrowed"
	NoticeItemReturned     NoticeKind = "item_returned"
	NoticeInterestDeclared NoticeKind = "interest_declared"
	NoticeReturnReminder   NoticeKind = "return_reminder"
)

// Notice is a message owed to one user after a state change. The engine only
// builds notices; delivery happens after the transaction has committed.
type Notice struct {
	ID              uuid.UUID  `json:"id"`
	Kind            NoticeKind `json:"kind"`
	Recipient       UserID     `json:"recipient"`
	Actor           UserID     `json:"actor"`
	ItemID          int64      `json:"item_id"`
	ItemName        string     `json:"item_name"`
	CopiesAvailable int        `json:"copies_available"`
	DueAt           *time.Time `json:"due_at,omitempty"`
}

func newNotice(kind NoticeKind, recipient, actor UserID, itemID int64, itemName string, available int) Notice {
	return Notice{
		ID:              uuid.Must(uuid.NewV7()),
		Kind:            kind,
		Recipient:       recipient,
		Actor:           actor,
		ItemID:          itemID,
		ItemName:        itemName,
		CopiesAvailable: available,
	}
}

// noticesFor builds one notice per recipient.
func noticesFor(kind NoticeKind, recipients []UserID, actor UserID, it *Item, available int) []Notice {
	out := make([]Notice, 0, len(recipients))
	for _, r := range recipients {
		out = append(out, newNotice(kind, r, actor, it.ID, it.Name, available))
	}
	return out
}

// Sender delivers a notice to its recipient.
type Sender interface {
	Send(ctx context.Context, n Notice) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, n Notice) error

func (f SenderFunc) Send(ctx context.Context, n Notice) error { return f(ctx, n) }

// FailedDelivery is a notice that could not be sent.
type FailedDelivery struct {
	Notice Notice
	Err    error
}

// DeliveryReport summarizes one fan-out.
type DeliveryReport struct {
	Sent   []Notice
	Failed []FailedDelivery
}

// Deliver sends every notice. A failure for one recipient is logged and
// recorded, and the remaining notices are still sent.
func Deliver(ctx context.Context, sender Sender, notices []Notice, log logrus.FieldLogger) DeliveryReport {
	var report DeliveryReport
	for _, n := range notices {
		if err := ctx.Err(); err != nil {
			report.Failed = append(report.Failed, FailedDelivery{Notice: n, Err: err})
			continue
		}
		if err := sender.Send(ctx, n); err != nil {
			log.WithFields(logrus.Fields{
				"notice":    n.ID.String(),
				"kind":      n.Kind,
				"recipient": n.Recipient,
				"item":      n.ItemID,
			}).WithError(err).Warn("notice delivery failed")
			report.Failed = append(report.Failed, FailedDelivery{Notice: n, Err: err})
			continue
		}
		report.Sent = append(report.Sent, n)
	}
	return report
}
