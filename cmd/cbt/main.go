// Command cbt is the learner and admin terminal client for a CBT server.
//
//	cbt login -email you@example.com -password secret
//	cbt courses
//	cbt take <course-id>
//	cbt buy <course-id>
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mind-engage/mindengage-cbt/internal/config"
	"github.com/mind-engage/mindengage-cbt/internal/errs"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = []command{
	{"login", "login -email E -password P", cmdLogin},
	{"register", "register -email E -password P -name N -phone P", cmdRegister},
	{"logout", "logout", cmdLogout},
	{"courses", "courses", cmdCourses},
	{"take", "take [-buy] <course-id>", cmdTake},
	{"buy", "buy <course-id>", cmdBuy},
	{"attempts", "attempts", cmdAttempts},
	{"upload", "upload -title T -desc D [-free | -price N] <file>", cmdUpload},
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: cbt <command> [flags]")
	for _, c := range commands {
		fmt.Fprintf(w, "  %s\n", c.usage)
	}
}

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg, err := config.ClientFromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == os.Args[1] {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		usage(os.Stderr)
		os.Exit(2)
	}

	a, err := newApp(cfg, os.Stdin, os.Stdout)
	if err != nil {
		log.Fatal(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := cmd.run(ctx, a, os.Args[2:])
	if err := a.sess.Save(cfg.SessionFile); err != nil {
		log.Printf("save session: %v", err)
	}
	if runErr != nil {
		if errors.Is(runErr, errs.ErrAuthFailure) && !a.sess.Authenticated() {
			log.Fatalf("cbt %s: %v (run cbt login)", cmd.name, runErr)
		}
		log.Fatalf("cbt %s: %v", cmd.name, runErr)
	}
}
