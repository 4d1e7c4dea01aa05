package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/daikw/speechstream/internal/config"
	"github.com/daikw/speechstream/internal/provider"
	"github.com/daikw/speechstream/internal/speech"
)

func speakCommand() *cli.Command {
	return &cli.Command{
		Name:      "speak",
		Aliases:   []string{"s"},
		Usage:     "Stream speech for text (arguments or stdin) to a file or stdout",
		ArgsUsage: "[text...]",
		Action:    handleSpeak,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "voice",
				Usage: "Voice short name, e.g. en-US-JennyNeural",
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "Streaming output format, e.g. audio-24khz-48kbitrate-mono-mp3",
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
			&cli.StringFlag{
				Name:  "preset",
				Usage: "Parameter preset: realtime, balanced, high-quality",
			},
			&cli.StringFlag{
				Name:  "chunk-size",
				Usage: "Outbound chunk size: small, medium, large",
			},
			&cli.StringFlag{
				Name:  "buffer",
				Usage: "Buffer strategy: low-latency, balanced, high-quality",
			},
			&cli.DurationFlag{
				Name:  "max-latency",
				Usage: "Latency budget (at least 50ms)",
			},
			&cli.BoolFlag{
				Name:  "no-progress",
				Usage: "Do not report streaming progress",
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
			&cli.StringFlag{
				Name:  "provider",
				Usage: "Synthesis provider: speech (default), openai, elevenlabs, polly, gcp",
			},
		},
	}
}

func handleSpeak(ctx context.Context, c *cli.Command) error {
	text, err := readText(c, os.Stdin)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	if name := cfg.GetEffectiveProvider(c.String("provider")); name != "" && name != "speech" {
		return speakWithProvider(ctx, c, cfg, name, text)
	}

	params, svc, err := streamingParams(ctx, c, cfg, text)
	if err != nil {
		return err
	}

	env, progress, err := svc.client.GetAudioStreamWithProgress(ctx, params)
	if err != nil {
		return err
	}

	out, path, err := openOutput(c, params.AudioFormat(), os.Stdout)
	if err != nil {
		env.Audio.Close()
		return err
	}
	defer out.Close()

	status := io.Writer(os.Stderr)
	if !params.EnableProgressTracking() {
		status = io.Discard
	}
	n, err := pipe(ctx, env.Audio, progress, speech.NewChunkBufferFor(params), out, status)
	if err != nil {
		return err
	}

	reportWritten(os.Stderr, path, n)
	return nil
}

// streamingParams merges config, preset and flags into validated
// parameters.
func streamingParams(ctx context.Context, c *cli.Command, cfg *config.File, text string) (speech.StreamingParameters, *speechService, error) {
	s, b, err := flagBuilder(c, cfg.Speech)
	if err != nil {
		return speech.StreamingParameters{}, nil, err
	}

	svc, err := newSpeechService(&config.File{Speech: s})
	if err != nil {
		return speech.StreamingParameters{}, nil, err
	}
	voice, err := svc.resolveVoice(ctx, s.Voice, s.Style != "" || s.Role != "")
	if err != nil {
		return speech.StreamingParameters{}, nil, err
	}

	params, err := b.Voice(voice).Text(text).Build()
	if err != nil {
		return speech.StreamingParameters{}, nil, err
	}
	return params, svc, nil
}

// flagBuilder overlays the set flags on the speech config and returns the
// merged config with its builder. --max-latency goes to the builder as is
// so sub-millisecond and zero values still fail validation.
func flagBuilder(c *cli.Command, s config.SpeechConfig) (config.SpeechConfig, *speech.StreamingParametersBuilder, error) {
	if c.IsSet("preset") {
		s.Preset = c.String("preset")
	}
	if c.IsSet("chunk-size") {
		s.ChunkSize = c.String("chunk-size")
	}
	if c.IsSet("buffer") {
		s.BufferStrategy = c.String("buffer")
	}
	if c.IsSet("format") {
		s.Format = c.String("format")
	}
	if c.IsSet("rate") {
		s.Rate = c.Float("rate")
	}
	if c.IsSet("style") {
		s.Style = c.String("style")
	}
	if c.IsSet("role") {
		s.Role = c.String("role")
	}
	if c.Bool("no-progress") {
		off := false
		s.Progress = &off
	}
	if c.IsSet("voice") {
		s.Voice = c.String("voice")
	}

	b, err := s.Builder()
	if err != nil {
		return s, nil, err
	}
	if c.IsSet("max-latency") {
		b.MaxLatency(c.Duration("max-latency"))
	}
	return s, b, nil
}

func speakWithProvider(ctx context.Context, c *cli.Command, cfg *config.File, name, text string) error {
	pc := cfg.GetProviderConfig(name)
	p, err := provider.CreateProvider(ctx, name, pc)
	if err != nil {
		return err
	}
	if closer, ok := p.(io.Closer); ok {
		defer closer.Close()
	}

	opts := provider.Options(pc)
	if c.IsSet("voice") {
		opts.Voice = c.String("voice")
	}
	if c.IsSet("format") {
		opts.Format = c.String("format")
	}
	if c.IsSet("rate") {
		opts.Speed = c.Float("rate")
	}

	chunkSize, strategy := speech.ChunkSizeMedium, speech.BufferBalanced
	if v := firstSet(c.String("chunk-size"), cfg.Speech.ChunkSize); v != "" {
		if chunkSize, err = speech.ParseChunkSize(v); err != nil {
			return err
		}
	}
	if v := firstSet(c.String("buffer"), cfg.Speech.BufferStrategy); v != "" {
		if strategy, err = speech.ParseBufferStrategy(v); err != nil {
			return err
		}
	}

	log.Debug().Str("provider", name).Str("voice", opts.Voice).Msg("Streaming from provider")

	audio, err := provider.Stream(ctx, p, text, opts, chunkSize)
	if err != nil {
		return err
	}

	format := opts.Format
	if format == "" {
		format = "mp3"
	}
	out, path, err := openOutput(c, format, os.Stdout)
	if err != nil {
		audio.Close()
		return err
	}
	defer out.Close()

	var progress *speech.ProgressStream
	status := io.Discard
	if !c.Bool("no-progress") {
		progress = speech.TrackProgress(audio, nil)
		status = os.Stderr
	}
	buf := speech.NewChunkBuffer(chunkSize.Bytes(), strategy.MinPlaybackBytes())
	n, err := pipe(ctx, audio, progress, buf, out, status)
	if err != nil {
		return err
	}

	reportWritten(os.Stderr, path, n)
	return nil
}

// pipe consumes audio through buf into out while rendering progress to
// status. It returns the number of bytes written.
func pipe(ctx context.Context, audio *speech.AudioStream, progress *speech.ProgressStream, buf *speech.ChunkBuffer, out io.Writer, status io.Writer) (int64, error) {
	var written int64
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for chunk, err := range audio.Chunks() {
			if err != nil {
				return err
			}
			buf.Push(chunk)
			for buf.HasEnoughDataForPlayback() {
				data, ok := buf.PopPlaybackChunk()
				if !ok {
					break
				}
				n, err := out.Write(data)
				written += int64(n)
				if err != nil {
					return fmt.Errorf("failed to write audio: %w", err)
				}
			}
		}
		n, err := out.Write(buf.DrainAll())
		written += int64(n)
		if err != nil {
			return fmt.Errorf("failed to write audio: %w", err)
		}
		return nil
	})

	if progress != nil {
		g.Go(func() error {
			renderProgress(gctx, progress, status)
			return nil
		})
	}

	err := g.Wait()
	return written, err
}

// renderProgress redraws one status line per update until the stream ends.
func renderProgress(ctx context.Context, progress *speech.ProgressStream, w io.Writer) {
	line := color.New(color.FgCyan)
	drawn := false
	for sp, err := range progress.Updates(ctx) {
		if err != nil {
			break
		}
		drawn = true
		line.Fprintf(w, "\r%s", formatProgress(sp))
	}
	if drawn {
		fmt.Fprintln(w)
	}
}

func formatProgress(sp speech.StreamProgress) string {
	s := fmt.Sprintf("%d bytes, %d chunks, %.1f KB/s", sp.BytesReceived, sp.ChunksReceived, sp.BytesPerSecond()/1024)
	if pct, ok := sp.PercentComplete(); ok {
		s = fmt.Sprintf("%5.1f%% %s", pct*100, s)
	}
	if sp.IsComplete {
		s += " done"
	}
	return s
}

// openOutput picks stdout, the --output path or speech.<ext>.
func openOutput(c *cli.Command, format string, stdout io.WriteCloser) (io.WriteCloser, string, error) {
	if c.Bool("stdout") {
		return nopWriteCloser{stdout}, "", nil
	}
	path := c.String("output")
	if path == "" {
		path = "speech." + outputExtension(format)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create output file: %w", err)
	}
	return f, path, nil
}

// outputExtension also accepts the short format names providers use.
func outputExtension(format string) string {
	if ext := speech.ExtensionForFormat(format); ext != "bin" || format == "" || strings.Contains(format, "-") {
		return ext
	}
	return strings.ToLower(format)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func reportWritten(w io.Writer, path string, n int64) {
	if path == "" {
		return
	}
	color.New(color.FgGreen).Fprintf(w, "✅ Wrote %d bytes to %s\n", n, path)
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
