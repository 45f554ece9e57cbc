package payflow

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/mind-engage/mindengage-cbt/internal/payment"
)

func awaitWithCallback(t *testing.T, ref, query string) (Outcome, error) {
	t.Helper()
	p := payment.Payment{Reference: ref, AuthorizationURL: "https://checkout.example/pay"}
	cc := CallbackConfirmer{
		Addr: "127.0.0.1:0",
		Prompt: func(_ payment.Payment, callbackURL string) {
			go func() {
				res, err := http.Get(callbackURL + "?" + query)
				if err == nil {
					res.Body.Close()
				}
			}()
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return cc.AwaitConfirmation(ctx, p)
}

func TestCallbackConfirmerPaystackRedirect(t *testing.T) {
	out, err := awaitWithCallback(t, "CBT_1", "trxref=CBT_1&reference=CBT_1")
	if err != nil || out != Confirmed {
		t.Fatalf("out=%v err=%v", out, err)
	}
}

func TestCallbackConfirmerMidtransDenied(t *testing.T) {
	out, err := awaitWithCallback(t, "CBT_2", "order_id=CBT_2&transaction_status=deny")
	if err != nil || out != Declined {
		t.Fatalf("out=%v err=%v", out, err)
	}
}

func TestCallbackConfirmerIgnoresOtherReference(t *testing.T) {
	p := payment.Payment{Reference: "CBT_3"}
	var status int
	cc := CallbackConfirmer{
		Addr: "127.0.0.1:0",
		Prompt: func(_ payment.Payment, callbackURL string) {
			res, err := http.Get(callbackURL + "?reference=someone-else")
			if err == nil {
				status = res.StatusCode
				res.Body.Close()
			}
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := cc.AwaitConfirmation(ctx, p)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d", status)
	}
}

func TestAutoConfirm(t *testing.T) {
	out, err := AutoConfirm{}.AwaitConfirmation(context.Background(), payment.Payment{})
	if err != nil || out != Confirmed {
		t.Fatalf("out=%v err=%v", out, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (AutoConfirm{Delay: time.Hour}).AwaitConfirmation(ctx, payment.Payment{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}
