package domain

import "context"

// MailMessage is the subset of a mailbox message the intake needs. Body data
// is kept in its transport encoding (base64url) and decoded by the parser.
type MailMessage struct {
	ID       string
	Subject  string
	BodyData string
	PartData []string // per-part body data, in MIME order
}

// Mailbox is the mail provider capability used by the intake loop.
type Mailbox interface {
	List(ctx context.Context, query string, labels []string) ([]string, error)
	Get(ctx context.Context, id string) (MailMessage, error)
	Modify(ctx context.Context, id string, removeLabels []string) error
}
