// Package main provides heybooks, a command-line client for the shared book catalog.
// It drives the same sync layer as the mobile app against a catalog store
// such as catalogd.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"

	"github.com/heybooks/heybooks-sync/internal/config"
	"github.com/heybooks/heybooks-sync/internal/di"
	"github.com/heybooks/heybooks-sync/internal/notify"
)

const version = "heybooks 1.0"

const usage = `HeyBooks catalog client.

Credentials default to HEYBOOKS_EMAIL and HEYBOOKS_PASSWORD.
Categories are comma separated.

Usage:
    heybooks register --name=<name> [options]
    heybooks verify <token> [options]
    heybooks resend-verification [options]
    heybooks reset-password [options]
    heybooks confirm-reset <token> --new-password=<password> [options]
    heybooks list [--category=<category>] [options]
    heybooks search <query> [options]
    heybooks mine [options]
    heybooks owner <user_id> [options]
    heybooks add --title=<title> --authors=<authors> --categories=<categories>
        --pages=<pages> --picture=<file> [--description=<text>] [options]
    heybooks remove <book_id> [options]
    heybooks delete <book_id> [options]
    heybooks cover <book_id> <file> [options]
    heybooks profile [--name=<name>] [--bio=<bio>] [options]
    heybooks avatar <file> [options]
    heybooks watch [options]
    heybooks -h | --help
    heybooks --version

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --remote-url=<url>         Base URL of the catalog store.
    --email=<email>            Account email.
    --password=<password>      Account password.
    --log-level=<level>        Log level [default: warn].
    --locale=<locale>          Language of messages.`

type command func(c *cli, ctx context.Context) error

var commands = map[string]command{
	"register":            (*cli).register,
	"verify":              (*cli).verify,
	"resend-verification": (*cli).resendVerification,
	"reset-password":      (*cli).resetPassword,
	"confirm-reset":       (*cli).confirmReset,
	"list":                (*cli).list,
	"search":              (*cli).search,
	"mine":                (*cli).mine,
	"owner":               (*cli).owner,
	"add":                 (*cli).add,
	"remove":              (*cli).remove,
	"delete":              (*cli).deleteBook,
	"cover":               (*cli).cover,
	"profile":             (*cli).profile,
	"avatar":              (*cli).avatar,
	"watch":               (*cli).watch,
}

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		os.Exit(2)
	}

	cfg, err := config.LoadConfig("heybooks", configArgs(opts))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(2)
	}

	// Notifications play the role of the app's snackbar.
	notifier := notify.Func(func(message string, _ notify.Duration) {
		fmt.Fprintln(os.Stderr, message)
	})

	injector := di.NewClientContainer(cfg, notifier)
	client, err := di.BootstrapClient(injector)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, newCLI(client, opts))
	stop()

	if shutdownErr := injector.Shutdown(); shutdownErr != nil {
		client.Logger.Warn("shutdown error", "error", shutdownErr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "heybooks: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *cli) error {
	for name, cmd := range commands {
		if selected, _ := c.opts.Bool(name); selected {
			return cmd(c, ctx)
		}
	}
	return errors.New("no command given")
}

// configArgs maps the connection options onto config flags.
func configArgs(opts docopt.Opts) []string {
	var args []string
	for opt, flag := range map[string]string{
		"--remote-url": "-remote-url",
		"--log-level":  "-log-level",
		"--locale":     "-locale",
	} {
		if v := optString(opts, opt); v != "" {
			args = append(args, flag, v)
		}
	}
	return args
}

func optString(opts docopt.Opts, key string) string {
	v, _ := opts.String(key)
	return v
}
