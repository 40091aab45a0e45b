// Command frostnode is the long-running FROST wallet node process: it
// connects to the signal relay, forms WebRTC meshes with other devices on
// demand, and serializes every DKG/signing protocol step through the
// command bus (§4.H) until the process is signaled to stop.
//
// Grounded on the teacher's cmd/kmsServer/main.go: a urfave/cli.App with
// EnvVars-backed flags and a single Action function building the logger,
// resolving configuration, and handing off to the node's Start/Stop
// lifecycle. Wallet creation/join/signing are not flags or subcommands
// here (§1's Non-goals exclude CLI argument parsing for menu-driven
// operations) — cmd/frostnode only owns the process surface named in §6.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/Layr-Labs/frost-wallet-node/pkg/config"
	"github.com/Layr-Labs/frost-wallet-node/pkg/keystore"
	"github.com/Layr-Labs/frost-wallet-node/pkg/logger"
	"github.com/Layr-Labs/frost-wallet-node/pkg/node"
)

func main() {
	app := &cli.App{
		Name:  "frostnode",
		Usage: "Distributed FROST threshold-signature wallet node",
		Description: `A device that participates in FROST distributed key generation and
threshold signing over an ad-hoc WebRTC mesh, coordinated through a
signal relay.`,
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "device-id",
				Usage:   "this device's identifier (defaults to the host's hostname)",
				EnvVars: []string{config.EnvDeviceID},
			},
			&cli.StringFlag{
				Name:    "signal-server",
				Usage:   "signal relay websocket URL",
				Value:   config.DefaultSignalServer,
				EnvVars: []string{config.EnvSignalServer},
			},
			&cli.StringFlag{
				Name:    "curve",
				Usage:   "FROST cipher suite: secp256k1 or ed25519",
				Value:   string(config.CurveTypeSecp256k1),
				EnvVars: []string{config.EnvCurve},
			},
			&cli.BoolFlag{
				Name:    "offline",
				Usage:   "do not connect to the signal relay; local keystore operations only",
				EnvVars: []string{config.EnvOffline},
			},
			&cli.StringFlag{
				Name:    "keystore-root",
				Usage:   "keystore root directory (defaults to $HOME/.frost_keystore)",
				EnvVars: []string{config.EnvKeystoreRoot},
			},
			&cli.StringSliceFlag{
				Name:    "ice-server",
				Usage:   "STUN/TURN server URL, repeatable",
				Value:   cli.NewStringSlice("stun:stun.l.google.com:19302"),
				EnvVars: []string{config.EnvICEServers},
			},
			&cli.IntFlag{
				Name:    "dedup-ttl-seconds",
				Usage:   "how long a seen frame's content hash is remembered",
				Value:   300,
				EnvVars: []string{config.EnvDedupTTL},
			},
			&cli.IntFlag{
				Name:    "dedup-capacity",
				Usage:   "maximum number of seen frame hashes remembered at once",
				Value:   4096,
				EnvVars: []string{config.EnvDedupCapacity},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "enable debug-level logging",
				EnvVars: []string{config.EnvVerbose},
			},
		},
		Action: runFrostNode,
	}

	if err := app.Run(os.Args); err != nil {
		if ec, ok := err.(cli.ExitCoder); ok {
			os.Exit(ec.ExitCode())
		}
		log.Fatalf("frostnode: %v", err)
	}
}

func runFrostNode(c *cli.Context) error {
	l, err := logger.New(logger.Config{Debug: c.Bool("verbose")})
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to create logger: %v", err), 1)
	}
	defer func() { _ = l.Sync() }()

	cfg, err := resolveConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("configuration error: %v", err), 1)
	}

	if err := keystore.New(cfg.KeystoreRoot).Healthcheck(); err != nil {
		return cli.Exit(fmt.Sprintf("keystore unreachable: %v", err), 2)
	}

	n := node.New(cfg, promptWalletPassword, l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		l.Sugar().Infow("shutdown signal received")
		n.Stop()
	}()

	if err := n.Start(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("node exited: %v", err), 1)
	}
	return nil
}

// resolveConfig builds a config.Config from CLI flags and env vars, per §6's
// Process surface and Environment variables.
func resolveConfig(c *cli.Context) (config.Config, error) {
	deviceID := c.String("device-id")
	if deviceID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return config.Config{}, fmt.Errorf("determine hostname: %w", err)
		}
		deviceID = hostname
	}

	curve, err := config.ParseCurveType(c.String("curve"))
	if err != nil {
		return config.Config{}, err
	}

	keystoreRoot := c.String("keystore-root")
	if keystoreRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return config.Config{}, fmt.Errorf("determine HOME: %w", err)
		}
		keystoreRoot = filepath.Join(home, ".frost_keystore")
	}

	var iceServers []config.ICEServer
	if urls := c.StringSlice("ice-server"); len(urls) > 0 {
		iceServers = []config.ICEServer{{URLs: urls}}
	}

	return config.Config{
		DeviceID:       deviceID,
		SignalServer:   c.String("signal-server"),
		Curve:          curve,
		Offline:        c.Bool("offline"),
		KeystoreRoot:   keystoreRoot,
		Reconnect:      config.DefaultReconnectConfig(),
		Timeouts:       config.DefaultTimeoutConfig(),
		Batch:          config.DefaultBatchConfig(),
		ICEServers:     iceServers,
		DedupTTLSecond: c.Int("dedup-ttl-seconds"),
		DedupCapacity:  c.Int("dedup-capacity"),
	}, nil
}

// promptWalletPassword reads a wallet password from the controlling
// terminal with echo disabled. It is the only place this process touches a
// password: §4.G requires it never cross the network or persist, so it is
// read fresh for every DKG/load rather than cached on disk.
func promptWalletPassword(walletID string) ([]byte, error) {
	fmt.Fprintf(os.Stderr, "password for wallet %q: ", walletID)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	return password, nil
}
