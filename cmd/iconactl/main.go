// Command iconactl lists and opens the doors of a Comelit intercom through its ICONA Bridge service.
//
// Usage:
//
//	iconactl [flags] list
//	iconactl [flags] open NAME
//
// Settings come from defaults, then the -config TOML file, then the -env file and ICONA_HOST,
// ICONA_PORT and ICONA_TOKEN, then the flags. With -simulate the command talks to an in-process
// simulated device instead.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/arloliu/go-icona/bridge"
	"github.com/arloliu/go-icona/icona"
	"github.com/arloliu/go-icona/internal/devicesim"
	"github.com/arloliu/go-icona/logger"
)

const defaultEnvFile = ".env"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout io.Writer, stderr io.Writer) int {
	fset := flag.NewFlagSet("iconactl", flag.ContinueOnError)
	fset.SetOutput(stderr)

	configPath := fset.String("config", "", "path to a TOML config file")
	envFile := fset.String("env", defaultEnvFile, "path to a .env file")
	host := fset.String("host", "", "device host")
	port := fset.Int("port", 0, "device port")
	token := fset.String("token", "", "user token")
	logLevel := fset.String("log-level", "", "log level: debug, info, warn, error")
	logFormat := fset.String("log-format", "", "log format: json, console")
	simulate := fset.Bool("simulate", false, "talk to an in-process simulated device")

	fset.Usage = func() {
		fmt.Fprintln(stderr, "usage: iconactl [flags] list | open NAME")
		fset.PrintDefaults()
	}

	if err := fset.Parse(args); err != nil {
		return 2
	}

	cfg := defaultCLIConfig()
	if *configPath != "" {
		if err := loadConfigFile(*configPath, &cfg); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}
	if err := loadEnv(*envFile, *envFile != defaultEnvFile, &cfg); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	fset.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = *host
		case "port":
			cfg.Port = *port
		case "token":
			cfg.Token = *token
		case "log-level":
			cfg.LogLevel = strings.ToLower(*logLevel)
		case "log-format":
			cfg.LogFormat = *logFormat
		}
	})

	l, err := cfg.newLogger(stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	logger.SetDefault(l)

	if *simulate {
		dev, err := devicesim.Start(devicesim.Config{InitReplies: 2, Logger: l})
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		defer dev.Close()

		cfg.Host, cfg.Port, cfg.Token = dev.Host(), dev.Port(), devicesim.DefaultToken
	}

	if err := execute(ctx, cfg, l, fset.Args(), stdout); err != nil {
		fmt.Fprintln(stderr, "iconactl:", err)
		return 1
	}

	return 0
}

func execute(ctx context.Context, cfg cliConfig, l logger.Logger, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New("missing command, expect list or open NAME")
	}

	command := args[0]
	switch {
	case command == "list" && len(args) == 1:
	case command == "open" && len(args) == 2:
	default:
		return fmt.Errorf("invalid command %q", strings.Join(args, " "))
	}

	if cfg.Token == "" {
		return errors.New("user token is not set")
	}

	clientCfg, err := cfg.clientConfig(l)
	if err != nil {
		return err
	}

	client, err := bridge.NewClient(ctx, clientCfg)
	if err != nil {
		return err
	}
	defer client.Shutdown()

	if err := client.Connect(ctx); err != nil {
		return err
	}

	status, err := client.Authenticate(cfg.Token)
	if err != nil {
		return err
	}
	if err := status.Err(); err != nil {
		return err
	}

	doors, err := client.ListActuators()
	if err != nil {
		return err
	}

	if command == "list" {
		return printActuators(stdout, doors)
	}

	door, ok := findActuator(doors, args[1])
	if !ok {
		return fmt.Errorf("%w: no door named %q", icona.ErrInvalidActuator, args[1])
	}

	outcome, err := client.OpenActuator(door)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "%s: open command sent (%s)\n", door.Name, outcome)

	return nil
}

func printActuators(w io.Writer, doors []icona.Actuator) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tAPARTMENT\tOUTPUT")
	for _, door := range doors {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", door.Name, door.ApartmentAddress, door.OutputIndex)
	}

	return tw.Flush()
}

func findActuator(doors []icona.Actuator, name string) (icona.Actuator, bool) {
	name = strings.TrimSpace(name)
	for _, door := range doors {
		if strings.EqualFold(door.Name, name) {
			return door, true
		}
	}

	return icona.Actuator{}, false
}
