package client

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/mind-engage/mindengage-cbt/internal/errs"
	"github.com/mind-engage/mindengage-cbt/internal/payment"
)

type initializeRequest struct {
	CourseID string `json:"course_id" validate:"required"`
}

type initializeResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Reference        string  `json:"reference"`
		CourseID         string  `json:"course_id"`
		Amount           float64 `json:"amount"`
		Currency         string  `json:"currency"`
		AuthorizationURL string  `json:"authorization_url"`
		AccessCode       string  `json:"access_code"`
	} `json:"data"`
}

// InitializePayment opens a pending payment for a paid course.
func (c *Client) InitializePayment(ctx context.Context, courseID string) (payment.Payment, error) {
	req := initializeRequest{CourseID: courseID}
	if err := c.check(req); err != nil {
		return payment.Payment{}, err
	}
	var out initializeResponse
	if err := c.do(ctx, call{method: http.MethodPost, path: "/payments/initialize", body: req, out: &out, auth: true}); err != nil {
		return payment.Payment{}, err
	}
	if !out.Status || out.Data.Reference == "" {
		msg := out.Message
		if msg == "" {
			msg = "payment could not be initialized"
		}
		return payment.Payment{}, errs.New(errs.CodePaymentFailed, msg)
	}
	cid := out.Data.CourseID
	if cid == "" {
		cid = courseID
	}
	return payment.Payment{
		Reference:        out.Data.Reference,
		CourseID:         cid,
		Amount:           out.Data.Amount,
		Currency:         out.Data.Currency,
		Status:           payment.StatusPending,
		AuthorizationURL: out.Data.AuthorizationURL,
		AccessCode:       out.Data.AccessCode,
	}, nil
}

type verifyResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Reference  string     `json:"reference"`
		Status     string     `json:"status"`
		VerifiedAt *time.Time `json:"verified_at"`
	} `json:"data"`
}

// VerifyPayment asks the server to settle reference with the provider.
// The server answers idempotently, so this call may be retried.
func (c *Client) VerifyPayment(ctx context.Context, reference string) (payment.Payment, error) {
	if reference == "" {
		return payment.Payment{}, errs.Validation("payment reference required")
	}
	var out verifyResponse
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/payments/verify/" + url.PathEscape(reference),
		out:    &out,
		auth:   true,
	})
	if err != nil {
		return payment.Payment{}, err
	}
	p := payment.Payment{Reference: reference, VerifiedAt: out.Data.VerifiedAt}
	switch payment.Status(out.Status) {
	case payment.StatusSuccess:
		p.Status, p.Verified = payment.StatusSuccess, true
	case payment.StatusPending:
		p.Status = payment.StatusPending
	default:
		p.Status = payment.StatusFailed
	}
	return p, nil
}

// PaymentStatus returns the caller's purchases for courseID.
func (c *Client) PaymentStatus(ctx context.Context, courseID string) (payment.AccessStatus, error) {
	if courseID == "" {
		return payment.AccessStatus{}, errs.Validation("course id required")
	}
	var out payment.AccessStatus
	err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/payments/status/" + url.PathEscape(courseID),
		out:    &out,
		auth:   true,
	})
	if out.CourseID == "" {
		out.CourseID = courseID
	}
	return out, err
}
