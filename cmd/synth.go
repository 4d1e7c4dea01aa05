package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/daikw/speechstream/internal/retry"
	"github.com/daikw/speechstream/internal/speech"
)

func synthCommand() *cli.Command {
	return &cli.Command{
		Name:      "synth",
		Usage:     "Synthesize text in one request, retrying transient failures",
		ArgsUsage: "[text...]",
		Action:    handleSynth,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "voice",
				Usage: "Voice short name, e.g. en-US-JennyNeural",
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "Output format; RIFF formats are allowed here",
			},
			&cli.FloatFlag{
				Name:  "rate",
				Usage: rateUsage,
			},
			&cli.StringFlag{
				Name:  "style",
				Usage: "Speaking style supported by the voice",
			},
			&cli.StringFlag{
				Name:  "role",
				Usage: "Role-play role supported by the voice",
			},
			&cli.IntFlag{
				Name:  "retries",
				Usage: "Retries after the first attempt (default from config)",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output file path (default: speech.<ext>)",
			},
			&cli.BoolFlag{
				Name:  "stdout",
				Usage: "Write audio to stdout",
			},
		},
	}
}

func handleSynth(ctx context.Context, c *cli.Command) error {
	text, err := readText(c, os.Stdin)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	s := cfg.Speech
	req := speech.SynthesisRequest{
		Text:   text,
		Format: firstSet(c.String("format"), s.Format),
		Rate:   s.Rate,
		Style:  firstSet(c.String("style"), s.Style),
		Role:   firstSet(c.String("role"), s.Role),
	}
	if c.IsSet("rate") {
		req.Rate = c.Float("rate")
	}

	svc, err := newSpeechService(cfg)
	if err != nil {
		return err
	}
	req.Voice, err = svc.resolveVoice(ctx, firstSet(c.String("voice"), s.Voice), req.Style != "" || req.Role != "")
	if err != nil {
		return err
	}

	policy := cfg.Retry.Policy()
	if c.IsSet("retries") {
		policy.MaxRetries = int(c.Int("retries"))
	}

	result, err := synthesize(ctx, svc.client, policy, req)
	if err != nil {
		return err
	}

	out, path, err := openOutput(c, result.Format, os.Stdout)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := out.Write(result.Audio); err != nil {
		return fmt.Errorf("failed to write audio: %w", err)
	}

	if path != "" {
		color.New(color.FgGreen).Fprintf(os.Stderr, "✅ Wrote %d bytes to %s in %s\n", len(result.Audio), path, result.Elapsed.Round(time.Millisecond))
	}
	return nil
}

// synthesize runs a batch synthesis under the retry policy.
func synthesize(ctx context.Context, client *speech.Client, policy retry.Policy, req speech.SynthesisRequest) (*speech.SynthesisResult, error) {
	log.Debug().
		Str("voice", req.Voice.ID()).
		Int("max_retries", policy.MaxRetries).
		Msg("Starting batch synthesis")

	return retry.Do(ctx, policy, func(ctx context.Context) (*speech.SynthesisResult, error) {
		return client.Synthesize(ctx, req)
	})
}
