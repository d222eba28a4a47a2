package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/logger"
	"github.com/stemsi/exstem-grader/internal/service"
	"golang.org/x/term"
)

// issue-token signs a bearer token with JWT_SECRET for local testing and
// operator tooling.
func main() {
	var (
		userID    = flag.Int64("user", 0, "User ID to put in the token")
		tokenType = flag.String("type", string(service.TokenTypeUser), "Token type: user or admin")
		ttl       = flag.Duration("ttl", 12*time.Hour, "Token lifetime")
	)
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()
	log := logger.SetupWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	// ─── CLI Input ─────────────────────────────────────────────────────
	if *userID == 0 && term.IsTerminal(int(os.Stdin.Fd())) {
		reader := bufio.NewReader(os.Stdin)
		fmt.Fprintln(os.Stderr, "=== Issue Token ===")

		fmt.Fprint(os.Stderr, "Enter User ID: ")
		raw, _ := reader.ReadString('\n')
		id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error: User ID must be a number")
			os.Exit(2)
		}
		*userID = id

		fmt.Fprintf(os.Stderr, "Enter Type (default %s): ", *tokenType)
		raw, _ = reader.ReadString('\n')
		if t := strings.TrimSpace(raw); t != "" {
			*tokenType = t
		}
	}

	if *userID <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -user must be a positive ID")
		os.Exit(2)
	}
	typ := service.TokenType(*tokenType)
	if typ != service.TokenTypeUser && typ != service.TokenTypeAdmin {
		fmt.Fprintf(os.Stderr, "Error: unknown token type %q\n", *tokenType)
		os.Exit(2)
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	auth := service.NewAuthService(cfg)
	token, err := auth.IssueToken(*userID, typ, *ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign token")
	}

	log.Info().Int64("user_id", *userID).Str("type", string(typ)).Dur("ttl", *ttl).Msg("Token issued")
	fmt.Println(token)
}
