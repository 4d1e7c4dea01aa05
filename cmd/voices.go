package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/daikw/speechstream/internal/provider"
	"github.com/daikw/speechstream/internal/speech"
	"github.com/daikw/speechstream/internal/voices"
)

func voicesCommand() *cli.Command {
	return &cli.Command{
		Name:    "voices",
		Aliases: []string{"v"},
		Usage:   "List available voices",
		Action:  handleVoices,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "locale",
				Usage: "Locale or language filter, e.g. en-US or en",
			},
			&cli.StringFlag{
				Name:  "gender",
				Usage: "Gender filter",
			},
			&cli.StringFlag{
				Name:  "style",
				Usage: "Only voices supporting this style",
			},
			&cli.StringFlag{
				Name:  "role",
				Usage: "Only voices supporting this role",
			},
			&cli.StringFlag{
				Name:  "type",
				Usage: "Voice type filter, e.g. Neural",
			},
			&cli.StringFlag{
				Name:  "provider",
				Usage: "List voices of another provider: openai, elevenlabs, polly, gcp",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print JSON",
			},
			&cli.BoolFlag{
				Name:  "formats",
				Usage: "List streaming formats instead of voices",
			},
		},
	}
}

func handleVoices(ctx context.Context, c *cli.Command) error {
	if c.Bool("formats") {
		for _, f := range speech.StreamingFormats() {
			fmt.Println(f)
		}
		return nil
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	filter := voices.Filter{
		Locale:    c.String("locale"),
		Gender:    c.String("gender"),
		Style:     c.String("style"),
		Role:      c.String("role"),
		VoiceType: c.String("type"),
	}

	var list []speech.Voice
	if name := c.String("provider"); name != "" && name != "speech" {
		p, err := provider.CreateProvider(ctx, name, cfg.GetProviderConfig(name))
		if err != nil {
			return err
		}
		if closer, ok := p.(io.Closer); ok {
			defer closer.Close()
		}
		all, err := p.ListVoices(ctx)
		if err != nil {
			return err
		}
		list = filter.Apply(all)
	} else {
		svc, err := newSpeechService(cfg)
		if err != nil {
			return err
		}
		if list, err = svc.catalog.Search(ctx, filter); err != nil {
			return err
		}
	}

	if c.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}
	printVoices(os.Stdout, list)
	return nil
}

func printVoices(w io.Writer, list []speech.Voice) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No voices matched")
		return
	}
	name := color.New(color.Bold)
	for _, v := range list {
		name.Fprintf(w, "  %s", v.ID())
		fmt.Fprintf(w, " (%s, %s", v.Locale, v.Gender)
		if v.VoiceType != "" {
			fmt.Fprintf(w, ", %s", v.VoiceType)
		}
		fmt.Fprint(w, ")")
		if len(v.Styles) > 0 {
			fmt.Fprintf(w, " styles: %s", strings.Join(v.Styles, ", "))
		}
		if len(v.Roles) > 0 {
			fmt.Fprintf(w, " roles: %s", strings.Join(v.Roles, ", "))
		}
		fmt.Fprintln(w)
	}
}
