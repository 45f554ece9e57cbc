package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/mind-engage/mindengage-cbt/internal/client"
	"github.com/mind-engage/mindengage-cbt/internal/config"
	"github.com/mind-engage/mindengage-cbt/internal/entitlement"
	"github.com/mind-engage/mindengage-cbt/internal/payflow"
	"github.com/mind-engage/mindengage-cbt/internal/payment"
	"github.com/mind-engage/mindengage-cbt/internal/portal"
	"github.com/mind-engage/mindengage-cbt/internal/session"
	"github.com/mind-engage/mindengage-cbt/internal/testsession"
)

// app is one CLI invocation: the persisted session plus the client core
// wired on top of it.
type app struct {
	cfg    config.Client
	sess   *session.Store
	api    *client.Client
	portal *portal.Portal
	in     *bufio.Scanner
	out    io.Writer
	money  *priceFormatter
}

func newApp(cfg config.Client, in io.Reader, out io.Writer) (*app, error) {
	sess, err := session.Load(cfg.SessionFile)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.Expired(time.Now()) {
		sess.Logout()
	}
	api, err := client.New(cfg.APIURL, sess, client.WithTimeout(cfg.RequestTimeout))
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:   cfg,
		sess:  sess,
		api:   api,
		in:    bufio.NewScanner(in),
		out:   out,
		money: newPriceFormatter(cfg.Currency),
	}
	a.portal = portal.New(api, sess, portal.Config{
		Policy:      entitlement.Policy{FreeAttemptLimit: cfg.FreeAttemptLimit},
		Confirmer:   a.confirmer(),
		MachineOpts: []testsession.Option{testsession.WithTimeout(cfg.RequestTimeout)},
		PayOpts: []payflow.Option{
			payflow.WithLogger(log.New(out, "", 0)),
			payflow.WithVerifyRetry(cfg.VerifyAttempts, 500*time.Millisecond),
			payflow.WithConfirmTimeout(cfg.ProviderTimeout),
		},
	})
	return a, nil
}

func (a *app) confirmer() payflow.ProviderConfirmer {
	if a.cfg.Confirmer == "auto" {
		return payflow.AutoConfirm{}
	}
	return payflow.CallbackConfirmer{
		Addr: a.cfg.CallbackAddr,
		Prompt: func(p payment.Payment, callbackURL string) {
			fmt.Fprintf(a.out, "Pay %s at:\n  %s\n", a.money.format(p.Amount, p.Currency), p.AuthorizationURL)
			fmt.Fprintf(a.out, "Waiting for the provider to return you to %s ...\n", callbackURL)
		},
	}
}

// prompt prints label and reads one line. io.EOF is returned when input is
// closed.
func (a *app) prompt(label string) (string, error) {
	fmt.Fprint(a.out, label)
	if !a.in.Scan() {
		if err := a.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return a.in.Text(), nil
}
