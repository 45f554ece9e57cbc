package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/mind-engage/mindengage-cbt/internal/client"
	"github.com/mind-engage/mindengage-cbt/internal/entitlement"
	"github.com/mind-engage/mindengage-cbt/internal/errs"
	"github.com/mind-engage/mindengage-cbt/internal/testsession"
)

func parse(fs *flag.FlagSet, args []string, positional int) ([]string, error) {
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return nil, errs.Validation(err.Error())
	}
	if fs.NArg() != positional {
		return nil, errs.Validation(fmt.Sprintf("expected %d argument(s), got %d", positional, fs.NArg()))
	}
	return fs.Args(), nil
}

func cmdLogin(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "email or admin user name")
	password := fs.String("password", "", "password")
	if _, err := parse(fs, args, 0); err != nil {
		return err
	}
	id, err := a.api.Login(ctx, client.LoginRequest{Email: *email, Password: *password})
	if err != nil {
		return err
	}
	role := "learner"
	if id.IsAdmin {
		role = "admin"
	}
	fmt.Fprintf(a.out, "Signed in as %s (%s)\n", id.Email, role)
	return nil
}

func cmdRegister(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	var req client.RegisterRequest
	fs.StringVar(&req.Email, "email", "", "email")
	fs.StringVar(&req.Password, "password", "", "password (min 6)")
	fs.StringVar(&req.FullName, "name", "", "full name")
	fs.StringVar(&req.Phone, "phone", "", "phone number")
	if _, err := parse(fs, args, 0); err != nil {
		return err
	}
	id, err := a.api.Register(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Welcome, %s\n", id.FullName)
	return nil
}

func cmdLogout(_ context.Context, a *app, _ []string) error {
	a.api.Logout()
	fmt.Fprintln(a.out, "Signed out")
	return nil
}

func cmdCourses(ctx context.Context, a *app, _ []string) error {
	cs, err := a.portal.Courses(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tPRICE\tQUESTIONS\tACCESS")
	for _, c := range cs {
		access := "sign in"
		if a.sess.Authenticated() {
			d, err := a.portal.Entitlement(ctx, c.ID)
			if err != nil {
				return err
			}
			access = verdictLabel(d)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", c.ID, c.Title, a.money.price(c.IsFree, c.Price), c.TotalQuestions, access)
	}
	return tw.Flush()
}

func verdictLabel(d entitlement.Decision) string {
	switch d.Verdict {
	case entitlement.Allowed:
		return "open"
	case entitlement.DeniedPaymentRequired:
		return "payment required"
	default:
		return "attempted"
	}
}

func cmdAttempts(ctx context.Context, a *app, _ []string) error {
	as, err := a.api.MyAttempts(ctx)
	if err != nil {
		return err
	}
	if len(as) == 0 {
		fmt.Fprintln(a.out, "No attempts yet")
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COURSE\tSCORE\tCORRECT\tCOMPLETED\tRETAKE")
	for _, at := range as {
		fmt.Fprintf(tw, "%s\t%.1f%%\t%d/%d\t%s\t%t\n",
			at.CourseTitle, at.Score, at.CorrectAnswers, at.TotalQuestions, ago(at.CompletedAt), at.CanRetake)
	}
	return tw.Flush()
}

func cmdBuy(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("buy", flag.ContinueOnError)
	pos, err := parse(fs, args, 1)
	if err != nil {
		return err
	}
	res, err := a.portal.Purchase(ctx, pos[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Payment %s verified\n", res.Payment.Reference)
	if !res.Decision.Allowed() {
		fmt.Fprintf(a.out, "Access still denied: %s\n", res.Decision.Reason)
	}
	return nil
}

func cmdTake(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("take", flag.ContinueOnError)
	buy := fs.Bool("buy", false, "purchase first when payment is required")
	pos, err := parse(fs, args, 1)
	if err != nil {
		return err
	}
	start := a.portal.StartTest
	if *buy {
		start = a.portal.StartOrPurchase
	}
	d, err := start(ctx, pos[0])
	if err != nil {
		if d.Verdict == entitlement.DeniedPaymentRequired && errors.Is(err, errs.ErrAccessDenied) {
			return fmt.Errorf("%w (run cbt buy %s)", err, pos[0])
		}
		return err
	}
	return a.runTest(ctx)
}

const testHelp = "a-d choose, x clear, n next, p previous, <number> jump, s submit, q quit"

// runTest drives the loaded test from stdin until it is submitted or
// abandoned.
func (a *app) runTest(ctx context.Context) error {
	m := a.portal.Machine()
	fmt.Fprintf(a.out, "%s: %d questions\n%s\n", m.Snapshot().Title, m.Snapshot().Total, testHelp)
	for {
		s := m.Snapshot()
		if s.Question == nil {
			return errs.Validation("no question loaded")
		}
		fmt.Fprintf(a.out, "\n[%d/%d] %s\n", s.Cursor+1, s.Total, s.Question.Text)
		for i, opt := range s.Question.Options {
			mark := " "
			if i == s.Selected {
				mark = "*"
			}
			fmt.Fprintf(a.out, " %s %c) %s\n", mark, 'a'+i, opt)
		}
		line, err := a.prompt(fmt.Sprintf("(%d answered) > ", s.Answered))
		if errors.Is(err, io.EOF) {
			_ = m.Abandon()
			return errs.Validation("input closed; test abandoned")
		}
		if err != nil {
			return err
		}
		line = strings.ToLower(strings.TrimSpace(line))
		switch {
		case line == "":
		case line == "n":
			m.Next()
		case line == "p":
			m.Previous()
		case line == "x":
			if err := m.ClearAnswer(s.Question.ID); err != nil {
				return err
			}
		case line == "q":
			return m.Abandon()
		case line == "s":
			if s.Answered < s.Total {
				ok, err := a.prompt(fmt.Sprintf("%d unanswered; submit anyway? [y/N] ", s.Total-s.Answered))
				if err != nil || !strings.HasPrefix(strings.ToLower(ok), "y") {
					continue
				}
			}
			res, err := m.Submit(ctx)
			if err != nil {
				if st := m.State(); st == testsession.Ready || st == testsession.Answering {
					fmt.Fprintln(a.out, err)
					continue
				}
				return err
			}
			fmt.Fprintf(a.out, "\nScore: %s (%d of %d correct)\n", res.Percentage, res.CorrectAnswers, res.TotalQuestions)
			if !res.CanRetake {
				fmt.Fprintln(a.out, "A new payment is required to retake this course.")
			}
			return nil
		case len(line) == 1 && line[0] >= 'a' && line[0] <= 'z':
			if err := m.SelectAnswer(s.Question.ID, int(line[0]-'a')); err != nil {
				fmt.Fprintln(a.out, err)
				continue
			}
			m.Next()
		default:
			n, err := strconv.Atoi(line)
			if err != nil {
				fmt.Fprintln(a.out, testHelp)
				continue
			}
			m.Jump(n - 1)
		}
	}
}

func cmdUpload(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	title := fs.String("title", "", "course title")
	desc := fs.String("desc", "", "course description")
	free := fs.Bool("free", false, "free course")
	price := fs.Float64("price", 0, "price for a paid course")
	pos, err := parse(fs, args, 1)
	if err != nil {
		return err
	}
	f, err := os.Open(pos[0])
	if err != nil {
		return errs.Validation(err.Error())
	}
	defer f.Close()
	res, err := a.api.UploadCourse(ctx, client.UploadCourseRequest{
		Title:       *title,
		Description: *desc,
		IsFree:      *free,
		Price:       *price,
		FileName:    filepath.Base(pos[0]),
		File:        f,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s: %s (%d questions)\n", res.Message, res.CourseID, res.QuestionsExtracted)
	return nil
}
