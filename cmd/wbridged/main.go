package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/wbridge/internal/daemon"
	"github.com/matheus3301/wbridge/internal/profile"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default ~/.wbridge/config.toml)")
	flag.Parse()

	cfg, name, err := profile.Load(*configFlag, *profileFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: name, Config: cfg}),
	)

	app.Run()
}
