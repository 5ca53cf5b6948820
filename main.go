package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"lmchat/config"
	"lmchat/mcp"
	"lmchat/model"
	"lmchat/ollama"
	"lmchat/orchestrator"
	"lmchat/provider"
	"lmchat/stream"
	"lmchat/tools"
)

const (
	Version = "v0.01.00"
	License = "Apache-2.0"
)

type options struct {
	model      string
	system     string
	images     []string
	plain      bool
	noTools    bool
	render     bool
	width      int
	listModels bool
	save       bool
	version    bool
}

func parseFlags() (*options, []string) {
	opts := &options{}
	flag.StringVar(&opts.model, "model", "", "model to use instead of the configured one")
	flag.StringVar(&opts.system, "system", "", "system prompt (overrides system_prompt in config)")
	flag.Func("image", "attach an image (local path or URL); repeatable", func(s string) error {
		opts.images = append(opts.images, s)
		return nil
	})
	flag.BoolVar(&opts.plain, "plain", false, "single non-streaming completion without tools")
	flag.BoolVar(&opts.noTools, "no-tools", false, "do not offer any tools to the model")
	flag.BoolVar(&opts.render, "render", false, "render the answer as markdown once complete")
	flag.IntVar(&opts.width, "width", 100, "line width for -render")
	flag.BoolVar(&opts.listModels, "list-models", false, "list the models the server offers and exit")
	flag.BoolVar(&opts.save, "save", false, "store -model in the config file as the new default")
	flag.BoolVar(&opts.version, "version", false, "print version and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: lmchat [flags] [prompt]\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Reads the prompt from stdin when none is given.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	return opts, flag.Args()
}

func main() {
	opts, args := parseFlags()
	if opts.version {
		fmt.Printf("lmchat %s (%s)\n", Version, License)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, args); err != nil {
		stop()
		fail(err)
	}
}

func run(ctx context.Context, opts *options, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize debug logging after config is loaded
	config.InitDebugLog(cfg.DataDir())

	client, err := provider.NewClientFromConfig(cfg)
	if err != nil {
		return err
	}
	if opts.model != "" {
		client.SetModel(opts.model)
	}
	if opts.save {
		if opts.model == "" {
			return errors.New("-save requires -model")
		}
		if err := config.SaveModel(cfg.DataDir(), opts.model); err != nil {
			return fmt.Errorf("failed to save model: %w", err)
		}
		fmt.Fprintln(os.Stderr, dimStyle.Render("saved "+opts.model+" as default model"))
		if len(args) == 0 && !opts.listModels {
			return nil
		}
	}

	if opts.listModels {
		return listModels(ctx, client)
	}

	prompt, err := readPrompt(args)
	if err != nil {
		return err
	}

	var messages []model.Message
	systemPrompt := cfg.SystemPrompt
	if opts.system != "" {
		systemPrompt = opts.system
	}
	if systemPrompt != "" {
		messages = append(messages, model.SystemMessage(systemPrompt))
	}
	messages = append(messages, model.UserMessage(prompt, opts.images...))

	params := provider.GenerationParamsFromConfig(cfg)

	if opts.plain {
		completion, err := client.Complete(ctx, messages, params)
		if err != nil {
			return err
		}
		return printAnswer(completion.Content, opts)
	}

	registry := tools.NewRegistry()
	if cfg.Tools.Enabled && !opts.noTools {
		if err := tools.RegisterBuiltins(registry, cfg.Tools, nil); err != nil {
			return err
		}

		if len(cfg.MCPServers) > 0 {
			mcpClient := mcp.NewClient()
			defer mcpClient.Shutdown(context.Background())

			for _, err := range mcpClient.StartAll(ctx, cfg.MCPServers) {
				warn(err.Error())
			}
			mcpClient.RegisterTools(registry)
		}

		if pt, _ := provider.ParseProviderType(cfg.Server.Provider); pt == provider.ProviderTypeOllama && !ollama.ModelSupportsToolCalling(client.GetModel()) {
			warn(fmt.Sprintf("%s may not support tool calling; tools are offered anyway", client.GetModel()))
		}
	}

	orch := orchestrator.New(client, registry,
		orchestrator.WithMaxRounds(cfg.Tools.MaxRounds),
		orchestrator.WithObserver(printActivity),
	)

	turn, err := orch.Run(ctx, messages, params)
	if err != nil {
		return err
	}

	if opts.render {
		text, err := stream.Collect(turn.Stream)
		if err != nil {
			return err
		}
		return printAnswer(text, opts)
	}

	for token, err := range turn.Stream.All() {
		if err != nil {
			fmt.Println()
			return err
		}
		fmt.Print(token)
	}
	fmt.Println()
	return nil
}

// readPrompt joins the arguments, or reads stdin when there are none.
func readPrompt(args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}

	data, err := io.ReadAll(bufio.NewReader(os.Stdin))
	if err != nil {
		return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("no prompt given")
	}
	return prompt, nil
}

func listModels(ctx context.Context, client *provider.Client) error {
	models, err := client.ListModels(ctx)
	if err != nil {
		return err
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("%s at %s", client.Label(), client.BaseURL())))
	for _, m := range models {
		line := m.Name
		if m.Size > 0 {
			line += dimStyle.Render(fmt.Sprintf("  %s", formatSize(m.Size)))
		}
		if m.Name == client.GetModel() {
			line = currentStyle.Render("* ") + line
		} else {
			line = "  " + line
		}
		fmt.Println(line)
	}
	return nil
}

func printAnswer(text string, opts *options) error {
	if opts.render {
		fmt.Print(renderMarkdown(text, opts.width))
		return nil
	}
	fmt.Println(text)
	return nil
}

func printActivity(e orchestrator.Event) {
	switch e.Kind {
	case orchestrator.EventToolCallStarted:
		fmt.Fprintln(os.Stderr, activityStyle.Render(fmt.Sprintf("→ %s %s", e.Call.Name, e.Call.Arguments)))
	case orchestrator.EventToolCallFinished:
		if strings.HasPrefix(e.Result, "error:") {
			fmt.Fprintln(os.Stderr, warnStyle.Render("  "+firstLine(e.Result)))
		}
	}
}

func warn(msg string) {
	fmt.Fprintln(os.Stderr, warnStyle.Render("warning: "+msg))
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
	os.Exit(1)
}
