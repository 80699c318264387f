package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"hark/internal/assistant"
	"hark/internal/capture"
	"hark/internal/config"
	"hark/pkg/audioconv"
	"hark/pkg/stt"
)

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	configPath := cli.StringP("config", "c", "", "Settings file path")
	lang := cli.StringP("lang", "L", "", "en-US, ar-SA or bilingual (overrides settings)")
	backend := cli.StringP("backend", "b", "", "openai or whisper (overrides settings)")
	verbose := cli.BoolP("verbose", "v", false, "Debug logging")
	timeout := cli.DurationP("timeout", "t", 2*time.Minute, "Timeout per file")
	cli.Parse()

	level := log.LevelWarn
	if *verbose {
		level = log.LevelDebug
	}
	log.SetDefault(log.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level})))

	if cli.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: hark [flags] <audio file>...")
		os.Exit(2)
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to load env file", "path", *envFile, "err", err)
	}

	settings, err := config.Load(*configPath)
	if err != nil {
		log.Error("Invalid settings", "err", err)
		os.Exit(1)
	}
	if *lang != "" {
		settings.Language = *lang
	}
	if *backend != "" {
		settings.STT.Backend = *backend
	}

	client, err := assistant.NewOpenAIClient(settings)
	if err != nil {
		log.Error("Failed to create client", "err", err)
		os.Exit(1)
	}

	rec, err := assistant.NewRecognizer(settings, client)
	if err != nil {
		log.Error("Failed to create recognizer", "err", err)
		os.Exit(1)
	}
	if c, ok := rec.(io.Closer); ok {
		defer c.Close()
	}

	mode := capture.ParseMode(settings.Language)

	failed := false
	for _, path := range cli.Args() {
		if err := transcribe(rec, path, mode, *timeout, cli.NArg() > 1); err != nil {
			log.Error("Failed to transcribe", "file", path, "err", err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func transcribe(rec stt.Recognizer, path string, mode capture.Mode, timeout time.Duration, prefix bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	samples, err := audioconv.DecodeFile(ctx, path, audioconv.Options{})
	if err != nil {
		return err
	}
	log.Debug("Decoded", "file", path, "samples", len(samples))

	text, err := stt.Bilingual(ctx, rec, audioconv.Float32ToInt16(samples), audioconv.TargetRate, mode.Primary, mode.Secondary)
	if err != nil {
		return err
	}

	if prefix {
		fmt.Printf("%s: %s\n", path, text)
	} else {
		fmt.Println(text)
	}
	return nil
}
