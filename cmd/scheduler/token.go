package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/example/room-scheduler/internal/auth"
)

// runTokenCommand signs a development token with SCHEDULER_JWT_SECRET:
//
//	scheduler token -user user-001 [-admin] [-ttl 8h]
func runTokenCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	userID := fs.String("user", "", "user id placed in the subject claim")
	admin := fs.Bool("admin", false, "mark the token as an operator token")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	issuer := fs.String("issuer", os.Getenv("SCHEDULER_JWT_ISSUER"), "issuer claim")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	token, err := auth.IssueToken(os.Getenv("SCHEDULER_JWT_SECRET"), auth.IssueParams{
		UserID:  *userID,
		IsAdmin: *admin,
		Issuer:  *issuer,
		TTL:     *ttl,
	})
	if err != nil {
		fmt.Fprintf(stderr, "token: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, token)
	return 0
}
