package payment

import "time"

type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool { return s == StatusSuccess || s == StatusFailed }

type Payment struct {
	Reference        string     `json:"reference"`
	CourseID         string     `json:"course_id"`
	Amount           float64    `json:"amount"`
	Currency         string     `json:"currency,omitempty"`
	Status           Status     `json:"status"`
	Verified         bool       `json:"verified"`
	AuthorizationURL string     `json:"authorization_url,omitempty"`
	AccessCode       string     `json:"access_code,omitempty"`
	CreatedAt        time.Time  `json:"created_at,omitempty"`
	VerifiedAt       *time.Time `json:"verified_at,omitempty"`
}

// Settled reports whether the payment cleared server-side verification.
func (p Payment) Settled() bool { return p.Status == StatusSuccess && p.Verified }

// AccessStatus is the server's view of a user's purchases for one course.
type AccessStatus struct {
	CourseID      string    `json:"course_id"`
	HasAccess     bool      `json:"has_access"`
	PaymentStatus string    `json:"payment_status"`
	Payments      []Payment `json:"payments"`
}
