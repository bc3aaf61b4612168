package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/busline-backend/pkg/enums"
	pkgfirestore "github.com/angelmondragon/busline-backend/pkg/firestore"
)

const (
	ticketTemplate  = "ticket-issued"
	failureTemplate = "ticket-failure-ops"
)

// MailDocument is the trigger document read by the mail delivery extension.
type MailDocument struct {
	To        []string     `firestore:"to"`
	Template  MailTemplate `firestore:"template"`
	Reference string       `firestore:"reference"`
	EventID   string       `firestore:"eventId"`
	CreatedAt time.Time    `firestore:"createdAt"`
}

type MailTemplate struct {
	Name string         `firestore:"name"`
	Data map[string]any `firestore:"data"`
}

// MailStore persists mail trigger documents.
type MailStore interface {
	CreateMail(ctx context.Context, id string, doc MailDocument) error
}

// FirestoreMailStore writes trigger documents into the configured mail
// collection. Creating an existing id is treated as success.
type FirestoreMailStore struct {
	client *pkgfirestore.Client
}

func NewFirestoreMailStore(client *pkgfirestore.Client) (*FirestoreMailStore, error) {
	if client == nil {
		return nil, errors.New("firestore client required")
	}
	return &FirestoreMailStore{client: client}, nil
}

func (s *FirestoreMailStore) CreateMail(ctx context.Context, id string, doc MailDocument) error {
	_, err := s.client.Mail().Doc(id).Create(ctx, doc)
	if status.Code(err) == codes.AlreadyExists {
		return nil
	}
	return err
}

// TicketIssuer requests ticket delivery for confirmed outcomes and alerts
// operations about failed or cancelled ones.
type TicketIssuer struct {
	mail     MailStore
	opsEmail string
	now      func() time.Time
}

func NewTicketIssuer(mail MailStore, opsEmail string) (*TicketIssuer, error) {
	if mail == nil {
		return nil, errors.New("mail store required")
	}
	return &TicketIssuer{mail: mail, opsEmail: strings.TrimSpace(opsEmail), now: time.Now}, nil
}

func (t *TicketIssuer) Name() string { return "ticket_issuer" }

func (t *TicketIssuer) Handle(ctx context.Context, evt Event) error {
	o := evt.Outcome
	switch evt.Type {
	case enums.EventTicketConfirmed:
		if strings.TrimSpace(o.CustomerEmail) == "" {
			return fmt.Errorf("no customer email for %s", o.Reference)
		}
		return t.mail.CreateMail(ctx, evt.ID.String()+"-ticket", MailDocument{
			To: []string{o.CustomerEmail},
			Template: MailTemplate{
				Name: ticketTemplate,
				Data: map[string]any{
					"reference":    o.Reference,
					"customerName": o.CustomerName,
					"purchaseId":   o.PurchaseID,
					"purchaseUuid": o.PurchaseUUID,
					"amount":       o.Amount.StringFixed(2),
					"currency":     o.Currency,
				},
			},
			Reference: o.Reference,
			EventID:   evt.ID.String(),
			CreatedAt: t.now().UTC(),
		})
	case enums.EventTicketFailed, enums.EventPaymentCancelled:
		if t.opsEmail == "" {
			return nil
		}
		data := map[string]any{
			"reference":      o.Reference,
			"status":         string(o.Status),
			"source":         string(o.Source),
			"purchaseId":     o.PurchaseID,
			"providerCartId": o.ProviderCartID,
			"customerEmail":  o.CustomerEmail,
			"message":        o.FailureMessage,
		}
		if o.FailureStage != nil {
			data["stage"] = string(*o.FailureStage)
		}
		return t.mail.CreateMail(ctx, evt.ID.String()+"-ops", MailDocument{
			To:        []string{t.opsEmail},
			Template:  MailTemplate{Name: failureTemplate, Data: data},
			Reference: o.Reference,
			EventID:   evt.ID.String(),
			CreatedAt: t.now().UTC(),
		})
	default:
		return nil
	}
}
