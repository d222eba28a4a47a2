package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/judge"
	"github.com/stemsi/exstem-grader/internal/logger"
	"github.com/stemsi/exstem-grader/internal/model"
	"github.com/stemsi/exstem-grader/internal/sandbox"
	"golang.org/x/term"
)

func main() {
	var (
		stdinFile = flag.String("stdin", "", "File fed to the program's stdin (default: piped stdin, if any)")
		casesFile = flag.String("cases", "", "JSON array of test cases to judge the program against")
		timeout   = flag.Duration("timeout", 0, "Per-run timeout (default: SANDBOX_RUN_TIMEOUT)")
	)
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: try-run [flags] <source-file>")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	// Program output goes to stdout, so logs go to stderr.
	log := logger.SetupWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	src, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read source file")
	}

	rt, err := sandbox.LoadRuntime(cfg.Sandbox.RuntimeFile, cfg.Sandbox.CheckCmd, cfg.Sandbox.RunCmd)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid sandbox runtime")
	}
	sb, err := sandbox.NewProcessSandbox(rt, sandbox.Options{
		DefaultTimeout: cfg.Sandbox.RunTimeout,
		MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create sandbox")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *casesFile != "" {
		os.Exit(judgeCases(ctx, sb, cfg.Sandbox.CaseTimeout, *casesFile, string(src)))
	}

	stdin, err := readStdin(*stdinFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read stdin")
	}

	runTimeout := cfg.Sandbox.RunTimeout
	if *timeout > 0 {
		runTimeout = *timeout
	}
	out := sb.Run(ctx, sandbox.Request{Code: string(src), Stdin: stdin, Timeout: runTimeout})

	fmt.Fprint(os.Stdout, out.Stdout)
	fmt.Fprint(os.Stderr, out.Stderr)
	log.Info().
		Str("runtime", rt.Name).
		Str("status", string(out.Status)).
		Dur("duration", out.Duration).
		Bool("truncated", out.Truncated).
		Msg("Run finished")

	if out.Status != sandbox.StatusSuccess {
		os.Exit(1)
	}
}

// readStdin returns the contents of path, or of the process stdin when it is
// piped. An interactive terminal yields no input rather than blocking.
func readStdin(path string) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		return string(data), err
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return "", nil
	}
	data, err := io.ReadAll(os.Stdin)
	return string(data), err
}

// judgeCases runs every case and prints a per-case verdict. It returns the
// process exit code.
func judgeCases(ctx context.Context, sb sandbox.Sandbox, caseTimeout time.Duration, path, code string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read cases: %v\n", err)
		return 2
	}
	var cases []model.TestCase
	if err := json.Unmarshal(data, &cases); err != nil {
		fmt.Fprintf(os.Stderr, "decode cases: %v\n", err)
		return 2
	}
	// Local files are the author's own; show every case in full.
	for i := range cases {
		cases[i].IsSample = true
		if cases[i].ID == 0 {
			cases[i].ID = int64(i + 1)
		}
	}

	ev := judge.NewEvaluator(sb, caseTimeout, logger.SetupWriter(os.Stderr, "warn", "pretty"))
	reports := ev.RunSamples(ctx, code, cases)

	passed, score := 0, 0
	for i, r := range reports {
		verdict := "FAIL"
		if r.Passed {
			verdict = "PASS"
			passed++
			score += cases[i].Score
		}
		fmt.Printf("case %d: %s (%s, %dms)\n", r.TestCaseID, verdict, r.Status, r.DurationMs)
		if !r.Passed {
			fmt.Printf("  expected: %q\n  actual:   %q\n", r.ExpectedOutput, r.ActualOutput)
			if r.Stderr != "" {
				fmt.Printf("  stderr:   %q\n", r.Stderr)
			}
		}
	}
	fmt.Printf("\n%d/%d passed, score %d/%d\n", passed, len(reports), score, judge.MaxScore(cases))
	if passed != len(reports) {
		return 1
	}
	return 0
}
