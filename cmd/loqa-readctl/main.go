package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/loqalabs/loqa-reader/internal/bus"
	"github.com/loqalabs/loqa-reader/internal/config"
	"github.com/loqalabs/loqa-reader/internal/protocol"
	"github.com/loqalabs/loqa-reader/internal/settings"
)

var version = "0.1.0-dev"

const usage = `usage: loqa-readctl <command> [flags]

commands:
  read      -surface <id> [-text <text> | stdin]
  stop      -surface <id>
  control   -surface <id> -action pause|resume|toggle|skip
  settings  get | set [-api-key <key>] [-voice v] [-model m] [-instructions i]
  validate  -file <settings.json>
  version`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "read":
		err = runRead(os.Args[2:])
	case "stop":
		err = runStop(os.Args[2:])
	case "control":
		err = runControl(os.Args[2:])
	case "settings":
		err = runSettings(os.Args[2:])
	case "validate":
		err = runValidate(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type busFlags struct {
	config  string
	servers string
	timeout time.Duration
}

func (b *busFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&b.config, "config", "", "Path to configuration file")
	fs.StringVar(&b.servers, "servers", "", "Comma separated NATS servers (overrides config)")
	fs.DurationVar(&b.timeout, "timeout", 10*time.Second, "Request timeout")
}

func (b *busFlags) connect() (*bus.Client, error) {
	cfg, err := config.Load(b.config)
	if err != nil {
		return nil, err
	}
	if b.servers != "" {
		cfg.Bus.Servers = strings.Split(b.servers, ",")
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return bus.Connect(context.Background(), "loqa-readctl", cfg.Bus, log)
}

// request connects, sends req and prints the decoded reply as JSON.
func (b *busFlags) request(subject string, req any, resp any) error {
	client, err := b.connect()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := client.Request(ctx, subject, req, resp); err != nil {
		return err
	}
	return printJSON(resp)
}

func runRead(args []string) error {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	var bf busFlags
	bf.register(fs)
	surfaceID := fs.String("surface", "", "Surface id")
	text := fs.String("text", "", "Text to read; stdin when empty")
	fs.Parse(args)

	body := *text
	if body == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		body = string(data)
	}

	var reply protocol.CommandReply
	if err := bf.request(protocol.SubjectReadCommand, protocol.ReadRequest{SurfaceID: *surfaceID, Text: body}, &reply); err != nil {
		return err
	}
	return replyError(reply, protocol.OutcomeStarted)
}

func runStop(args []string) error {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	var bf busFlags
	bf.register(fs)
	surfaceID := fs.String("surface", "", "Surface id")
	fs.Parse(args)

	var reply protocol.CommandReply
	return bf.request(protocol.SubjectStopCommand, protocol.StopRequest{SurfaceID: *surfaceID}, &reply)
}

func runControl(args []string) error {
	fs := flag.NewFlagSet("control", flag.ExitOnError)
	var bf busFlags
	bf.register(fs)
	surfaceID := fs.String("surface", "", "Surface id")
	action := fs.String("action", "toggle", "pause, resume, toggle or skip")
	fs.Parse(args)

	var reply protocol.CommandReply
	if err := bf.request(protocol.SubjectControlCommand, protocol.ControlRequest{SurfaceID: *surfaceID, Action: *action}, &reply); err != nil {
		return err
	}
	return replyError(reply, protocol.OutcomeDelivered, protocol.OutcomeNoController)
}

func runSettings(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("expected 'get' or 'set'")
	}
	switch args[0] {
	case "get":
		fs := flag.NewFlagSet("settings get", flag.ExitOnError)
		var bf busFlags
		bf.register(fs)
		fs.Parse(args[1:])

		var rec protocol.SettingsRecord
		return bf.request(protocol.SubjectSettingsGet, struct{}{}, &rec)
	case "set":
		fs := flag.NewFlagSet("settings set", flag.ExitOnError)
		var bf busFlags
		bf.register(fs)
		var rec protocol.SettingsRecord
		fs.StringVar(&rec.APIKey, "api-key", "", "API key (empty keeps the stored key)")
		fs.StringVar(&rec.Voice, "voice", "", "Voice")
		fs.StringVar(&rec.Model, "model", "", "Model")
		fs.StringVar(&rec.Instructions, "instructions", "", "Voice instructions")
		fs.Parse(args[1:])

		var reply protocol.CommandReply
		if err := bf.request(protocol.SubjectSettingsSet, rec, &reply); err != nil {
			return err
		}
		return replyError(reply, protocol.OutcomeSaved)
	default:
		return fmt.Errorf("unknown settings command %q", args[0])
	}
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	path := fs.String("file", "settings.json", "Path to settings file")
	fs.Parse(args)

	if _, err := os.Stat(*path); err != nil {
		return err
	}
	store, err := settings.Open(*path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.Get(context.Background())
	if err != nil {
		return err
	}
	if err := store.Validate(rec.Normalized()); err != nil {
		return err
	}
	fmt.Println("settings valid")
	return nil
}

func replyError(reply protocol.CommandReply, ok ...string) error {
	for _, outcome := range ok {
		if reply.Outcome == outcome {
			return nil
		}
	}
	if reply.Error != "" {
		return fmt.Errorf("%s: %s", reply.Outcome, reply.Error)
	}
	return fmt.Errorf("%s", reply.Outcome)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
