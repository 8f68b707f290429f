// Package main provides the CLI entry point for circuitchat.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/uncognic/circuitchat/internal/config"
	"github.com/uncognic/circuitchat/internal/history"
	"github.com/uncognic/circuitchat/internal/logging"
	"github.com/uncognic/circuitchat/internal/noise"
	"github.com/uncognic/circuitchat/internal/overlay"
	"github.com/uncognic/circuitchat/internal/recovery"
	"github.com/uncognic/circuitchat/internal/session"
	"github.com/uncognic/circuitchat/internal/ui"
)

// exit codes per spec §6: 0 clean, 1 fatal error, 2 usage error.
const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var skipConfirm bool

	rootCmd := &cobra.Command{
		Use:          "circuitchat",
		Short:        "Peer-to-peer, end-to-end encrypted chat over an anonymizing overlay network",
		SilenceUsage: true,
	}

	resetFlag := false
	rootCmd.PersistentFlags().BoolVar(&resetFlag, "reset", false, "delete on-disk state (history DB, cache, state directories) then exit")
	rootCmd.PersistentFlags().BoolVar(&skipConfirm, "yes", false, "skip the --reset confirmation prompt")

	initiateCmd := &cobra.Command{
		Use:   "initiate <peer_address>",
		Short: "Connect to a listening peer",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd.Context(), true, args[0])
		},
	}

	listenCmd := &cobra.Command{
		Use:   "listen",
		Short: "Accept a connection from a peer",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd.Context(), false, "")
		},
	}

	rootCmd.AddCommand(initiateCmd, listenCmd)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if resetFlag {
			if err := performReset(skipConfirm); err != nil {
				return err
			}
			os.Exit(exitOK)
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	rootCmd.SetContext(ctx)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if _, ok := err.(usageError); ok {
			return exitUsage
		}
		return exitFatal
	}
	return exitOK
}

type usageError struct{ error }

// usageArgs wraps a cobra PositionalArgs validator so its failures map to
// exit code 2 per §6, distinct from a runtime failure's exit code 1.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

func executableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	return filepath.Dir(exe), nil
}

// layout holds the on-disk paths adjacent to the executable, per §6.
type layout struct {
	configPath string
	dbPath     string
	stateDir   string
	cacheDir   string
	downloads  string
}

func resolveLayout() (layout, error) {
	dir, err := executableDir()
	if err != nil {
		return layout{}, err
	}
	return layout{
		configPath: filepath.Join(dir, config.FileName),
		dbPath:     filepath.Join(dir, "circuitchat.db"),
		stateDir:   filepath.Join(dir, "state"),
		cacheDir:   filepath.Join(dir, "cache"),
		downloads:  filepath.Join(dir, "downloads"),
	}, nil
}

func performReset(skipConfirm bool) error {
	lay, err := resolveLayout()
	if err != nil {
		return err
	}

	if !skipConfirm {
		ok, err := ui.Confirm(fmt.Sprintf("delete %s, %s and %s?", lay.dbPath, lay.stateDir, lay.cacheDir))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "reset cancelled")
			return nil
		}
	}

	for _, p := range []string{lay.dbPath, lay.stateDir, lay.cacheDir} {
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	fmt.Fprintln(os.Stderr, "state reset complete")
	return nil
}

// acceptUntilHandshakeSucceeds implements §7's responder propagation policy:
// a Crypto or Auth failure on an accepted connection drops that connection
// and returns to the accept loop for the next peer, rather than exiting the
// process. Only a broken listener (ErrListenerFailed) or context
// cancellation ends the loop.
func acceptUntilHandshakeSucceeds(ctx context.Context, ln overlay.Listener, opts session.Options, onStage func(session.ConnectionKind), log *slog.Logger) (*noise.Session, error) {
	for {
		sess, err := session.ListenerHandshake(ctx, ln, opts, onStage)
		if err == nil {
			return sess, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, session.ErrListenerFailed) {
			return nil, fmt.Errorf("accept connection: %w", err)
		}
		log.Warn("handshake failed, waiting for next connection", logging.KeyError, err.Error())
	}
}

func runSession(ctx context.Context, initiator bool, addr string) error {
	log := logging.NewLogger("info", "text")

	lay, err := resolveLayout()
	if err != nil {
		return fmt.Errorf("resolve on-disk layout: %w", err)
	}
	for _, dir := range []string{lay.downloads, lay.stateDir, lay.cacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	cfg, err := config.LoadOrCreate(lay.configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cfg.WarnIneffectiveHistorySave() {
		fmt.Fprintln(os.Stderr, "warning: history.save is set but identity.persist is false; history will not be saved")
	}

	authPassword := cfg.Auth.Password
	if cfg.Auth.Enabled && authPassword == "" {
		authPassword, err = ui.PromptAuthPassword()
		if err != nil {
			return fmt.Errorf("read auth password: %w", err)
		}
	}

	var store *history.Store
	if cfg.Identity.Persist && cfg.History.Save {
		passphrase := cfg.History.Passphrase
		if passphrase == "" {
			passphrase, err = ui.PromptPassphrase("history store passphrase")
			if err != nil {
				return fmt.Errorf("read history passphrase: %w", err)
			}
		}
		store, err = history.Open(lay.dbPath, passphrase)
		if err != nil {
			if err == history.ErrWrongPassphrase {
				return fmt.Errorf("incorrect history passphrase")
			}
			return fmt.Errorf("open history store: %w", err)
		}
		defer store.Close()
	}

	opts := session.Options{AuthEnabled: cfg.Auth.Enabled, AuthPassword: authPassword}

	chatUI := ui.New()
	uiErrCh := make(chan error, 1)
	go func() {
		defer recovery.RecoverWithLog(log, "chatUI")
		uiErrCh <- chatUI.Start()
	}()
	onStage := func(k session.ConnectionKind) {
		chatUI.Render(session.Snapshot{Status: session.Status{Kind: k}})
	}

	var sess *noise.Session
	if initiator {
		dialer := overlay.NewTCPDialer()
		sess, err = session.DialerHandshake(ctx, dialer, addr, opts, func(err error) {
			chatUI.Render(session.Snapshot{Status: session.Status{
				Kind:    session.ConnectionConnecting,
				Message: fmt.Sprintf("connect failed, retrying in %s: %v", overlay.ReconnectDelay, err),
			}})
		}, onStage)
		if err != nil {
			chatUI.Quit()
			<-uiErrCh
			return fmt.Errorf("connect to %s: %w", addr, err)
		}
	} else {
		ln, status, err := overlay.Listen()
		if err != nil {
			chatUI.Quit()
			<-uiErrCh
			return fmt.Errorf("start listener: %w", err)
		}
		defer ln.Close()
		if status == overlay.StatusBroken {
			chatUI.Quit()
			<-uiErrCh
			return fmt.Errorf("overlay service is broken")
		}
		log.Info("listening", "nickname", overlay.HiddenServiceNickname, "address", ln.LocalAddress(), "status", status)

		sess, err = acceptUntilHandshakeSucceeds(ctx, ln, opts, onStage, log)
		if err != nil {
			chatUI.Quit()
			<-uiErrCh
			return err
		}
	}

	driver := session.New(sess, chatUI, store, lay.downloads, log)
	driverErr := driver.Run()
	chatUI.Quit()
	<-uiErrCh

	return driverErr
}
