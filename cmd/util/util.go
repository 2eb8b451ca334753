package util

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/destacey/calsync/pkg/config"
	"github.com/destacey/calsync/pkg/errors"
	"github.com/destacey/calsync/pkg/graph"
	"github.com/destacey/calsync/pkg/store"
	"github.com/destacey/calsync/pkg/sync"
)

// Mocked for unit testing.
var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
)

// HandleFatalError prints a friendly version of the given error and exits.
func HandleFatalError(err error) {
	log.WithError(err).Debug("Fatal error")
	fmt.Fprintln(os.Stderr, errors.GetPrintableMessage(err))
	os.Exit(1)
}

// GetStore opens the event database at the path in the user config.
func GetStore(userConfig config.User) (store.Store, error) {
	st, err := store.Open(userConfig.DatabasePath)
	if err != nil {
		return nil, errors.WithContext(err, "open database")
	}
	return st, nil
}

// GetEngine builds a sync engine connected to Microsoft Graph, using the
// user's token command for authentication.
func GetEngine(st store.Store, userConfig config.User) (*sync.Engine, error) {
	if userConfig.TokenCommand == "" {
		return nil, errors.NewFriendlyError(
			"No token command is configured.\n" +
				"Set `tokenCommand` in " + config.UserConfigPath + " to a " +
				"command that prints a Microsoft Graph access token.")
	}

	source := graph.New(graph.Config{
		Tokens: commandTokenSource(userConfig.TokenCommand),
	})

	return sync.New(sync.Config{
		Store:  st,
		Source: source,
		Online: func() bool {
			return graph.Reachable(5 * time.Second)
		},
	}), nil
}

// commandTokenSource runs the configured shell command and returns its
// trimmed stdout as the bearer token.
func commandTokenSource(command string) graph.TokenSource {
	return func(ctx context.Context) (string, error) {
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Stderr = os.Stderr
		out, err := cmd.Output()
		if err != nil {
			return "", errors.WithContext(err, "run token command")
		}

		token := strings.TrimSpace(string(out))
		if token == "" {
			return "", errors.New("token command printed nothing")
		}
		return token, nil
	}
}

// PromptYesOrNo asks the user the given question and returns their answer.
// It retries until the user gives a parseable response.
func PromptYesOrNo(question string) (bool, error) {
	reader := bufio.NewReader(stdin)
	for {
		fmt.Fprintf(stdout, "%s (y/n): ", question)

		resp, err := reader.ReadString('\n')
		if err != nil {
			return false, err
		}

		switch strings.ToLower(strings.TrimSpace(resp)) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
	}
}

// ProgressPrinter prints a message, followed by a period every second until
// it's stopped. It gives users feedback that a long running task is
// progressing.
type ProgressPrinter struct {
	out     io.Writer
	message string
	stop    chan struct{}
	stopped chan struct{}
}

// NewProgressPrinter creates a new ProgressPrinter.
func NewProgressPrinter(out io.Writer, message string) *ProgressPrinter {
	return &ProgressPrinter{
		out:     out,
		message: message,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Run starts printing. It blocks until Stop is called.
func (pp *ProgressPrinter) Run() {
	defer close(pp.stopped)
	fmt.Fprint(pp.out, pp.message)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fmt.Fprint(pp.out, ".")
		case <-pp.stop:
			fmt.Fprintln(pp.out)
			return
		}
	}
}

// Stop terminates the printer and waits for it to finish writing.
func (pp *ProgressPrinter) Stop() {
	close(pp.stop)
	<-pp.stopped
}
