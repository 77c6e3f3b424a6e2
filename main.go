package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"shortforge/captions"
	"shortforge/compose"
	"shortforge/config"
	"shortforge/generate"
	"shortforge/logging"
	"shortforge/pipeline"
	"shortforge/plugin"
	"shortforge/plugin/library"
	"shortforge/plugin/reddit"
	"shortforge/plugin/slideshow"
	"shortforge/plugin/stock"
	"shortforge/speech"
	"shortforge/store"
	"shortforge/upload"
	"shortforge/workspace"
)

const version = "0.3.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:     "shortforge [topic]",
		Short:   "Turn a topic into a published YouTube Short",
		Args:    cobra.MaximumNArgs(1),
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := ""
			if len(args) > 0 {
				topic = args[0]
			}
			return run(cmd, configPath, topic)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yml", "path to the run configuration file")
	return cmd
}

func run(cmd *cobra.Command, configPath, topic string) error {
	// .env is local-dev convenience; CI provides real environment variables.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if topic == "" {
		topic = cfg.Prompt
	}
	if topic == "" {
		return fmt.Errorf("no topic: pass one as an argument or set prompt in %s", configPath)
	}

	logger, err := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		LogFile: filepath.Join("logs", sanitizeName(cfg.Name)+".log"),
	})
	if err != nil {
		return err
	}

	history, err := store.Open(cfg.DataDir, sanitizeName(cfg.Name))
	if err != nil {
		return err
	}
	defer history.Close()

	ws, err := workspace.Acquire(logger, cfg.OutputDir, sanitizeName(cfg.Name), cfg.KeepWorkspace)
	if err != nil {
		return err
	}
	defer ws.Release()

	registry := plugin.NewRegistry(logger, cfg.PluginsDir)
	builtins := []struct {
		name    string
		factory plugin.Factory
	}{
		{stock.Name, stock.Factory(logger)},
		{library.Name, library.Factory(logger)},
		{slideshow.Name, slideshow.Factory(logger)},
		{reddit.Name, reddit.Factory(logger)},
	}
	for _, b := range builtins {
		if err := registry.Register(b.name, b.factory); err != nil {
			return err
		}
	}
	registry.Discover()

	var uploader pipeline.Uploader
	if cfg.Upload {
		uploader = upload.New(logger)
	} else {
		logger.Info("upload disabled by configuration")
	}

	orchestrator := pipeline.New(
		cfg,
		logger,
		registry,
		generate.New(logger, ""),
		speech.New(logger, cfg.TTSCommand, cfg.Voice),
		captions.New(logger, cfg.WhisperModel, cfg.Font),
		compose.New(logger),
		uploader,
		history,
	)

	fmt.Printf("%s %s run %s\n",
		text.FgCyan.Sprint("shortforge"),
		text.FgHiBlack.Sprint("v"+version),
		text.FgMagenta.Sprint(ws.RunID),
	)
	fmt.Printf("%s (%s) >>> %s\n", text.FgWhite.Sprint("topic"), cfg.Name, text.FgYellow.Sprint(topic))

	videoPath, err := orchestrator.Run(cmd.Context(), topic, ws)
	if err != nil {
		fmt.Printf("%s %v\n", text.FgRed.Sprint("ERR"), err)
		return err
	}
	fmt.Printf("%s output: %s\n", text.FgGreen.Sprint("OK"), text.FgMagenta.Sprint(videoPath))
	return nil
}

var nameSanitizer = regexp.MustCompile(`[^\w\-.]`)

// sanitizeName makes a channel name safe for file and lock names.
func sanitizeName(name string) string {
	return nameSanitizer.ReplaceAllString(name, "_")
}
