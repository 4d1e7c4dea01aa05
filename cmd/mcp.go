package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/daikw/speechstream/internal/speech"
	"github.com/daikw/speechstream/internal/voices"
)

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:   "mcp",
		Usage:  "Serve synthesize and list_voices tools over MCP stdio",
		Action: handleMCP,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "output-dir",
				Usage: "Directory for synthesized audio (default: system temp dir)",
			},
		},
	}
}

func handleMCP(ctx context.Context, c *cli.Command) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	svc, err := newSpeechService(cfg)
	if err != nil {
		return err
	}

	policy := cfg.Retry.Policy()
	tools := &speechTools{
		synthesize: func(ctx context.Context, req speech.SynthesisRequest) (*speech.SynthesisResult, error) {
			return synthesize(ctx, svc.client, policy, req)
		},
		search:       svc.catalog.Search,
		resolveVoice: svc.resolveVoice,
		defaultVoice: cfg.Speech.Voice,
		format:       cfg.Speech.Format,
		outputDir:    c.String("output-dir"),
	}

	log.Debug().Msg("Serving MCP tools on stdio")
	return server.ServeStdio(newMCPServer(tools))
}

// speechTools backs the MCP tool handlers.
type speechTools struct {
	synthesize   func(context.Context, speech.SynthesisRequest) (*speech.SynthesisResult, error)
	search       func(context.Context, voices.Filter) ([]speech.Voice, error)
	resolveVoice func(ctx context.Context, name string, needCapabilities bool) (speech.Voice, error)
	defaultVoice string
	format       string
	outputDir    string
}

func newMCPServer(t *speechTools) *server.MCPServer {
	s := server.NewMCPServer("speechstream", version, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("synthesize",
		mcp.WithDescription("Synthesize speech for text and save it to an audio file"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to speak")),
		mcp.WithString("voice", mcp.Description("Voice short name, e.g. en-US-JennyNeural")),
		mcp.WithNumber("rate", mcp.Description(rateUsage)),
		mcp.WithString("style", mcp.Description("Speaking style supported by the voice")),
		mcp.WithString("role", mcp.Description("Role-play role supported by the voice")),
	), t.handleSynthesize)

	s.AddTool(mcp.NewTool("list_voices",
		mcp.WithDescription("List available voices as JSON"),
		mcp.WithString("locale", mcp.Description("Locale or language, e.g. en-US or en")),
		mcp.WithString("gender", mcp.Description("Gender filter")),
		mcp.WithString("style", mcp.Description("Only voices supporting this style")),
	), t.handleListVoices)

	return s
}

func (t *speechTools) handleSynthesize(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	req := speech.SynthesisRequest{
		Text:   text,
		Format: t.format,
		Rate:   request.GetFloat("rate", 0),
		Style:  request.GetString("style", ""),
		Role:   request.GetString("role", ""),
	}
	name := request.GetString("voice", t.defaultVoice)
	req.Voice, err = t.resolveVoice(ctx, name, req.Style != "" || req.Role != "")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := t.synthesize(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	f, err := os.CreateTemp(t.outputDir, "speech-*."+outputExtension(result.Format))
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(result.Audio); err != nil {
		return nil, fmt.Errorf("failed to write audio: %w", err)
	}

	return mcp.NewToolResultText(fmt.Sprintf("Wrote %d bytes of %s to %s", len(result.Audio), result.ContentType, f.Name())), nil
}

func (t *speechTools) handleListVoices(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := t.search(ctx, voices.Filter{
		Locale: request.GetString("locale", ""),
		Gender: request.GetString("gender", ""),
		Style:  request.GetString("style", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("failed to encode voices: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
