package model

import "context"

// DocumentRenderer materializes contracts as PDF documents and serves them
// back.
type DocumentRenderer interface {
	// Render produces the PDF for a contractor and returns its URL.
	Render(ctx context.Context, contractorID, templateContent string, fieldValues map[string]string) (string, error)

	// Fetch returns the most recently rendered PDF for a contractor.
	Fetch(ctx context.Context, contractorID string) ([]byte, error)
}

// CredentialProvider provisions login credentials for activated
// contractors.
type CredentialProvider interface {
	// Provision creates the contractor's login and returns a temporary
	// password. It returns CONFLICT while another recent login exists.
	Provision(ctx context.Context, contractorID, email string) (string, error)

	// Revoke removes the login created with password, if it is still the
	// current one.
	Revoke(ctx context.Context, contractorID, password string) error
}

// NotificationKind identifies the email being sent.
type NotificationKind string

const (
	NotifyContract   NotificationKind = "contract"
	NotifyActivation NotificationKind = "activation"
)

// Notification is an outbound email.
type Notification struct {
	Kind         NotificationKind
	ContractorID string
	To           string
	Subject      string
	Body         string
}

// Notifier delivers notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}
