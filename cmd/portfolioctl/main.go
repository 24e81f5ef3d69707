package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ourportfolio/internal/auth"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/proto"
	"github.com/Adithya-Monish-Kumar-K/ourportfolio/pkg/rpc"
)

// portfolioctl is an operator tool for the portfolio service.
//
// Usage:
//
//	portfolioctl token   --user 12 [--roles admin]
//	portfolioctl verify  --token <jwt>
//	portfolioctl suggest --prefix ja [--max 10]
//	portfolioctl stats
//	portfolioctl reload
func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	addr := flag.String("rpc", "", "rpc address (defaults to localhost and the configured rpc port)")
	timeout := flag.Duration("timeout", 10*time.Second, "rpc call timeout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *addr == "" {
		*addr = fmt.Sprintf("localhost:%d", cfg.RPC.Port)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch args[0] {
	case "token":
		cmdToken(cfg.Auth, args[1:])
	case "verify":
		cmdVerify(cfg.Auth, args[1:])
	case "suggest":
		cmdSuggest(ctx, *addr, args[1:])
	case "stats":
		call(ctx, *addr, proto.MethodStats, proto.StatsRequest{}, &proto.StatsResponse{})
	case "reload":
		call(ctx, *addr, proto.MethodReload, proto.ReloadRequest{}, &proto.ReloadResponse{})
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func cmdToken(cfg config.AuthConfig, args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	user := fs.Int64("user", 0, "user id the token is issued to")
	roles := fs.String("roles", "", "comma-separated roles, e.g. admin")
	fs.Parse(args)

	if *user <= 0 {
		fmt.Fprintln(os.Stderr, "error: --user must be a positive id")
		os.Exit(1)
	}
	var list []string
	for _, r := range strings.Split(*roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			list = append(list, r)
		}
	}

	token, err := auth.NewVerifier(cfg).Sign(*user, list...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func cmdVerify(cfg config.AuthConfig, args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	token := fs.String("token", "", "bearer token to check")
	fs.Parse(args)

	if *token == "" {
		fmt.Fprintln(os.Stderr, "error: --token is required")
		os.Exit(1)
	}
	user, err := auth.NewVerifier(cfg).Verify(*token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	printJSON(user)
}

func cmdSuggest(ctx context.Context, addr string, args []string) {
	fs := flag.NewFlagSet("suggest", flag.ExitOnError)
	prefix := fs.String("prefix", "", "keyword prefix")
	max := fs.Int("max", 0, "result cap; 0 uses the server default, -1 returns all")
	fs.Parse(args)

	call(ctx, addr, proto.MethodSuggest, proto.SuggestRequest{Prefix: *prefix, MaxItems: int32(*max)}, &proto.SuggestResponse{})
}

func call(ctx context.Context, addr, method string, params, result any) {
	client, err := rpc.Dial(ctx, addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	if err := client.Call(ctx, method, params, result); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	printJSON(result)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage:
  portfolioctl [--config path] [--rpc addr] <command> [flags]

Commands:
  token    --user <id> [--roles admin]   sign a bearer token
  verify   --token <jwt>                 check a bearer token
  suggest  --prefix <p> [--max n]        query the autocomplete index
  stats                                  show index statistics
  reload                                 rebuild the index from the store`)
}
