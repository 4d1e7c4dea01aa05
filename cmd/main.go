package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/daikw/speechstream/internal/auth"
	"github.com/daikw/speechstream/internal/config"
	"github.com/daikw/speechstream/internal/speech"
	"github.com/daikw/speechstream/internal/ssml"
	"github.com/daikw/speechstream/internal/voices"
)

var (
	version  = "dev"
	revision = "none"
)

var rateUsage = fmt.Sprintf("Speaking rate (%.1f-%.1f)", speech.MinRate, speech.MaxRate)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	app := &cli.Command{
		Name:  "speechstream",
		Usage: "Stream synthesized speech from a cloud text-to-speech service",
		Description: `speechstream sends text to a cloud speech service and writes the audio
as it arrives. Audio is re-chunked for playback, progress is reported while
streaming, and other providers (OpenAI, Amazon Polly, Google Cloud) can be
used through the same pipeline.`,
		Version: fmt.Sprintf("%s (rev: %s)", version, revision),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"V"},
				Usage:   "Enable verbose logging",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to a config.json (default: project, then global)",
			},
		},
		Commands: []*cli.Command{
			speakCommand(),
			synthCommand(),
			voicesCommand(),
			configCommand(),
			mcpCommand(),
		},
		Before: func(ctx context.Context, c *cli.Command) error {
			if c.Bool("verbose") {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}
			return nil
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		printError(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// printError writes err with its error class highlighted.
func printError(w io.Writer, err error) {
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(w, "interrupted")
		return
	}
	label := color.New(color.FgRed, color.Bold)
	kind := speech.KindOf(err)
	if kind == speech.KindUnknown {
		label.Fprint(w, "error: ")
	} else {
		label.Fprintf(w, "%s error: ", kind)
	}
	fmt.Fprintln(w, err)

	switch kind {
	case speech.KindRateLimit:
		if d, ok := speech.RetryAfterOf(err); ok {
			fmt.Fprintf(w, "  retry after %s\n", d)
		}
	case speech.KindAuthentication:
		fmt.Fprintf(w, "  check %s or the speech.key setting\n", config.EnvKey)
	}
}

// loadConfig honors --config, falling back to the project then global file.
func loadConfig(c *cli.Command) (*config.File, error) {
	loader := config.NewLoader()
	if path := c.String("config"); path != "" {
		return loader.LoadFromPath(path)
	}
	return loader.Load(".")
}

type speechService struct {
	client  *speech.Client
	catalog *voices.Catalog
}

func newSpeechService(cfg *config.File) (*speechService, error) {
	s := cfg.Speech
	if s.Region == "" && (s.Endpoint == "" || s.TokenEndpoint == "") {
		return nil, &speech.Error{
			Kind:    speech.KindInitialization,
			Op:      "config",
			Message: fmt.Sprintf("region is required (set speech.region or %s)", config.EnvRegion),
		}
	}

	var tokenOpts []auth.Option
	if s.TokenEndpoint != "" {
		tokenOpts = append(tokenOpts, auth.WithEndpoint(s.TokenEndpoint))
	}
	tokens, err := auth.NewTokenProvider(s.Key, s.Region, tokenOpts...)
	if err != nil {
		return nil, err
	}

	client, err := speech.NewClient(
		speech.Config{Region: s.Region, Endpoint: s.Endpoint},
		tokens,
		ssml.Build,
		speech.WithUserAgent("speechstream/"+version),
	)
	if err != nil {
		return nil, err
	}

	var catalogOpts []voices.Option
	if s.Region == "" {
		listURL, err := voices.ListEndpointFor(s.Endpoint)
		if err != nil {
			return nil, &speech.Error{Kind: speech.KindInitialization, Op: "config", Message: "invalid speech.endpoint", Err: err}
		}
		catalogOpts = append(catalogOpts, voices.WithEndpoint(listURL))
	}

	return &speechService{
		client:  client,
		catalog: voices.NewCatalog(s.Region, tokens, catalogOpts...),
	}, nil
}

// resolveVoice looks the voice up in the catalog only when its
// capabilities matter; otherwise the short name is enough to build markup.
func (s *speechService) resolveVoice(ctx context.Context, name string, needCapabilities bool) (speech.Voice, error) {
	if name == "" {
		return speech.Voice{}, &speech.Error{Kind: speech.KindValidation, Op: "voice", Message: "voice is required (use --voice or speech.voice)"}
	}
	if !needCapabilities {
		return speech.Voice{ShortName: name, Name: name}, nil
	}
	return s.catalog.FindByName(ctx, name)
}

// readText takes the positional arguments, or stdin when there are none.
func readText(c *cli.Command, stdin io.Reader) (string, error) {
	if c.Args().Len() > 0 {
		return strings.Join(c.Args().Slice(), " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read from stdin: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("no text provided (pass it as arguments or via stdin)")
	}
	return text, nil
}
