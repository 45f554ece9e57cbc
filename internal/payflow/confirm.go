package payflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mind-engage/mindengage-cbt/internal/payment"
	"github.com/mind-engage/mindengage-cbt/internal/timeouts"
)

// AutoConfirm reports every payment as confirmed after Delay. It stands in
// for the provider against the sandbox gateway.
type AutoConfirm struct {
	Delay time.Duration
}

func (a AutoConfirm) AwaitConfirmation(ctx context.Context, _ payment.Payment) (Outcome, error) {
	if a.Delay <= 0 {
		return Confirmed, ctx.Err()
	}
	t := time.NewTimer(a.Delay)
	defer t.Stop()
	select {
	case <-t.C:
		return Confirmed, nil
	case <-ctx.Done():
		return Declined, ctx.Err()
	}
}

// CallbackConfirmer listens on Addr for the provider's browser redirect to
// Path. Paystack appends reference and trxref; Midtrans appends order_id and
// transaction_status.
type CallbackConfirmer struct {
	Addr string
	Path string
	// Prompt shows the payer where to pay. callbackURL is where the
	// provider should return them.
	Prompt func(p payment.Payment, callbackURL string)
	Logger *log.Logger
}

const DefaultCallbackPath = "/payment/callback"

var declinedStatuses = map[string]bool{
	"deny": true, "cancel": true, "cancelled": true, "expire": true,
	"expired": true, "failure": true, "failed": true, "abandoned": true,
}

type callback struct {
	reference string
	status    string
}

func (cc CallbackConfirmer) AwaitConfirmation(ctx context.Context, p payment.Payment) (Outcome, error) {
	path := cc.Path
	if path == "" {
		path = DefaultCallbackPath
	}
	logger := cc.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	ln, err := net.Listen("tcp", cc.Addr)
	if err != nil {
		return Declined, fmt.Errorf("callback listener: %w", err)
	}
	got := make(chan callback, 1)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(path, func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		ref := firstOf(q.Get("reference"), q.Get("trxref"), q.Get("order_id"))
		if ref != p.Reference {
			http.Error(w, "unknown payment reference", http.StatusBadRequest)
			return
		}
		st := strings.ToLower(firstOf(q.Get("transaction_status"), q.Get("status")))
		select {
		case got <- callback{reference: ref, status: st}:
		default:
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "Payment received. You can close this window and return to the terminal.\n")
	})

	srv := &http.Server{Handler: r, ReadHeaderTimeout: timeouts.ReadHeader}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("payflow: callback server: %v", err)
		}
	}()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	callbackURL := "http://" + ln.Addr().String() + path
	if cc.Prompt != nil {
		cc.Prompt(p, callbackURL)
	}
	logger.Printf("payflow: waiting for provider callback on %s", callbackURL)

	select {
	case cb := <-got:
		if declinedStatuses[cb.status] {
			return Declined, nil
		}
		return Confirmed, nil
	case <-ctx.Done():
		return Declined, ctx.Err()
	}
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
