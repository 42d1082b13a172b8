package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/wbridge/internal/api"
	"github.com/matheus3301/wbridge/internal/pairing"
	"github.com/matheus3301/wbridge/internal/profile"
	"google.golang.org/protobuf/types/known/structpb"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default ~/.wbridge/config.toml)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	_, name, err := profile.Load(*configFlag, *profileFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c, err := api.Dial(profile.SocketPath(name))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for profile %q: %v\n", name, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out := output{json: *jsonFlag}
	switch args[0] {
	case "status":
		out.status(c.Status(ctx))
	case "sessions":
		out.sessions(c.ListSessions(ctx))
	case "pair":
		if len(args) < 2 {
			usageError("usage: wbridgectl pair <name>")
		}
		out.pair(c.CreatePairing(ctx, args[1]))
	case "pairings":
		out.pairings(c.ListPairings(ctx))
	case "revoke":
		if len(args) < 2 {
			usageError("usage: wbridgectl revoke <pairing-id>")
		}
		check(c.RevokePairing(ctx, args[1]))
		fmt.Println("Pairing revoked.")
	case "disconnect":
		if len(args) < 2 {
			usageError("usage: wbridgectl disconnect <session-id>")
		}
		check(c.DisconnectSession(ctx, args[1]))
		fmt.Println("Session disconnected.")
	case "seed":
		out.seed(c.Seed(ctx))
	case "typing":
		if len(args) < 2 {
			usageError("usage: wbridgectl typing <identity> [off]")
		}
		check(c.Typing(ctx, args[1], len(args) < 3 || args[2] != "off"))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: wbridgectl [--profile <name>] [--config <path>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status              Show daemon status")
	fmt.Fprintln(os.Stderr, "  sessions            List client sessions")
	fmt.Fprintln(os.Stderr, "  pair <name>         Pair a new web client and print its QR code")
	fmt.Fprintln(os.Stderr, "  pairings            List pairings")
	fmt.Fprintln(os.Stderr, "  revoke <id>         Revoke a pairing")
	fmt.Fprintln(os.Stderr, "  disconnect <id>     Close a session's connection")
	fmt.Fprintln(os.Stderr, "  seed                Fill an empty store with demo data")
	fmt.Fprintln(os.Stderr, "  typing <id> [off]   Show a contact as typing to connected clients")
}

func usageError(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

func check(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type output struct {
	json bool
}

// emit prints resp as JSON when requested and reports whether it did.
func (o output) emit(resp *structpb.Struct, err error) bool {
	check(err)
	if !o.json {
		return false
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp.AsMap()); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
	return true
}

func (o output) status(resp *structpb.Struct, err error) {
	if o.emit(resp, err) {
		return
	}
	m := resp.AsMap()
	fmt.Printf("Profile: %v\n", m["profile"])
	fmt.Printf("Listen:  %v\n", m["listen_addr"])
	fmt.Printf("Uptime:  %vs\n", m["uptime_seconds"])
	fmt.Printf("Schema:  v%v\n", m["schema_version"])
	fmt.Printf("Sessions:\n")
	for state, n := range asMap(m["sessions"]) {
		fmt.Printf("  %-24s %v\n", state, n)
	}
	fmt.Printf("Outbox:\n")
	for st, n := range asMap(m["outbox"]) {
		fmt.Printf("  %-24s %v\n", st, n)
	}
}

func (o output) sessions(resp *structpb.Struct, err error) {
	if o.emit(resp, err) {
		return
	}
	list := asList(resp.AsMap()["sessions"])
	if len(list) == 0 {
		fmt.Println("No sessions.")
		return
	}
	for _, item := range list {
		s := asMap(item)
		fmt.Printf("%-38s %-24s %v %v (out %v, in %v)\n",
			s["id"], s["state"], s["browser"], s["browser_version"], s["outgoing"], s["incoming"])
	}
}

func (o output) pair(resp *structpb.Struct, err error) {
	if o.emit(resp, err) {
		return
	}
	m := resp.AsMap()
	url, _ := m["url"].(string)
	qr, err := pairing.RenderQR(url)
	check(err)
	fmt.Print(qr)
	fmt.Printf("Pairing: %v\n", m["id"])
	fmt.Printf("URL:     %s\n", url)
	fmt.Printf("Token:   %v\n", m["token"])
}

func (o output) pairings(resp *structpb.Struct, err error) {
	if o.emit(resp, err) {
		return
	}
	list := asList(resp.AsMap()["pairings"])
	if len(list) == 0 {
		fmt.Println("No pairings.")
		return
	}
	for _, item := range list {
		p := asMap(item)
		state := "active"
		if revoked, _ := p["revoked"].(bool); revoked {
			state = "revoked"
		}
		seen := p["last_seen_at"]
		if seen == nil {
			seen = "never"
		}
		fmt.Printf("%-38s %-16v %-8s last seen %v\n", p["id"], p["name"], state, seen)
	}
}

func (o output) seed(resp *structpb.Struct, err error) {
	if o.emit(resp, err) {
		return
	}
	m := resp.AsMap()
	fmt.Printf("Seeded %v contacts, %v groups, %v conversations, %v messages.\n",
		m["contacts"], m["groups"], m["conversations"], m["messages"])
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}
