// seemectl is the operator tool for the SeeMe gateway's record store:
// bans, per-user limit overrides, runtime settings, and credential health.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/SeeMe2025/SeeMeBackend/internal/config"
	"github.com/SeeMe2025/SeeMeBackend/internal/store"
)

func main() {
	configPath := flag.String("config", "seeme.yaml", "path to the gateway config file")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		fatalf("open store: %v", err)
	}
	defer func() { _ = st.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "ban":
		runBan(ctx, st, args[1:])
	case "limit":
		runLimit(ctx, st, args[1:])
	case "setting":
		runSetting(ctx, st, args[1:])
	case "premium":
		runPremium(ctx, st, args[1:])
	case "status":
		runStatus(ctx, st)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

func runBan(ctx context.Context, st *store.Store, args []string) {
	if len(args) < 2 {
		fatalf("usage: seemectl ban <user|device|address> <key> [reason]")
	}
	kind, key := args[0], args[1]
	reason := ""
	if len(args) > 2 {
		reason = args[2]
	}

	var err error
	switch kind {
	case "user":
		err = st.BanUser(ctx, key, reason)
	case "device":
		err = st.BanDevice(ctx, key, reason)
	case "address":
		err = st.BanAddress(ctx, key, reason)
	default:
		fatalf("unknown ban kind %q (want user, device, or address)", kind)
	}
	if err != nil {
		fatalf("ban: %v", err)
	}
	fmt.Printf("banned %s %s\n", kind, key)
}

func runLimit(ctx context.Context, st *store.Store, args []string) {
	if len(args) != 3 {
		fatalf("usage: seemectl limit <user> <text-limit> <voice-limit>")
	}
	textLimit, err := strconv.Atoi(args[1])
	if err != nil {
		fatalf("text limit: %v", err)
	}
	voiceLimit, err := strconv.Atoi(args[2])
	if err != nil {
		fatalf("voice limit: %v", err)
	}
	if err := st.SetCustomLimit(ctx, args[0], textLimit, voiceLimit); err != nil {
		fatalf("limit: %v", err)
	}
	fmt.Printf("limits for %s: text=%d voice=%d\n", args[0], textLimit, voiceLimit)
}

func runSetting(ctx context.Context, st *store.Store, args []string) {
	if len(args) != 2 {
		fatalf("usage: seemectl setting <key> <value>")
	}
	if err := st.SetSetting(ctx, args[0], args[1]); err != nil {
		fatalf("setting: %v", err)
	}
	fmt.Printf("%s = %s\n", args[0], args[1])
}

func runPremium(ctx context.Context, st *store.Store, args []string) {
	if len(args) != 2 || (args[1] != "on" && args[1] != "off") {
		fatalf("usage: seemectl premium <device> <on|off>")
	}
	if err := st.SetPremium(ctx, args[0], args[1] == "on"); err != nil {
		fatalf("premium: %v", err)
	}
	fmt.Printf("premium %s for %s\n", args[1], args[0])
}

func runStatus(ctx context.Context, st *store.Store) {
	snaps, err := st.CredentialStatuses(ctx)
	if err != nil {
		fatalf("status: %v", err)
	}
	if len(snaps) == 0 {
		fmt.Println("no credential snapshots recorded yet")
	}
	for _, snap := range snaps {
		fmt.Printf("%-20s %-12s %d/%d (%.0f%%) checked %s\n",
			snap.KeyMask, snap.State, snap.Used, snap.Limit,
			snap.Fraction*100, snap.CheckedAt.Format(time.RFC3339))
	}

	for _, kind := range []string{"request", "response", "error"} {
		n, err := st.TelemetryCount(ctx, kind)
		if err != nil {
			fatalf("status: %v", err)
		}
		fmt.Printf("telemetry %-10s %d\n", kind, n)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: seemectl [-config seeme.yaml] <command>

commands:
  ban <user|device|address> <key> [reason]   record a ban
  limit <user> <text-limit> <voice-limit>    set per-user daily limits
  setting <key> <value>                      set an operator setting
  premium <device> <on|off>                  flag a device as premium
  status                                     show credential health and telemetry counts`)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
