package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jpamaran/gourdsight/config"
	"github.com/jpamaran/gourdsight/internal/history"
	"github.com/jpamaran/gourdsight/internal/utils"
	"github.com/jpamaran/gourdsight/pkg/camera"
	"github.com/jpamaran/gourdsight/pkg/client"
	"github.com/jpamaran/gourdsight/pkg/focus"
	"github.com/jpamaran/gourdsight/pkg/llamacpp"
	"github.com/jpamaran/gourdsight/pkg/local"
	"github.com/jpamaran/gourdsight/pkg/ollama"
	"github.com/jpamaran/gourdsight/pkg/processing"
	"github.com/jpamaran/gourdsight/pkg/remote"
	"github.com/jpamaran/gourdsight/pkg/session"
	"github.com/jpamaran/gourdsight/pkg/types"
)

func main() {
	var in, cfgPath, onnxPath, metaPath string
	var backend, url, model string
	var historyPath, choose string
	var ticks int
	var noRemote, verbose bool

	flag.StringVar(&in, "in", "", "input image file, directory of frames, or URL")
	flag.StringVar(&cfgPath, "config", "", "config file path (JSON)")
	flag.StringVar(&onnxPath, "onnx", "", "ONNX model path (overrides config)")
	flag.StringVar(&metaPath, "meta", "", "model metadata JSON path (overrides config)")
	flag.StringVar(&backend, "backend", "", "remote backend: ollama or llamacpp (overrides config)")
	flag.StringVar(&url, "url", "", "remote backend URL (overrides config)")
	flag.StringVar(&model, "model", "", "remote model name (overrides config)")
	flag.StringVar(&historyPath, "history", "", "scan history database path (overrides config)")
	flag.StringVar(&choose, "choose", "", "resolve a deferred arbitration: local or remote")
	flag.IntVar(&ticks, "ticks", 6, "scan ticks to run before capturing")
	flag.BoolVar(&noRemote, "no-remote", false, "skip remote verification, local-only")
	flag.BoolVar(&verbose, "v", false, "verbose logging")

	flag.Parse()
	if in == "" {
		log.Fatalf("usage: %s -in frame.jpg|framedir|URL [-onnx model.onnx -meta model.json] [-backend ollama|llamacpp] [-no-remote]", filepath.Base(os.Args[0]))
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.LoadFromFile(cfgPath)
		if err != nil {
			log.Fatal(err)
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	if onnxPath != "" {
		cfg.Local.ModelPath = onnxPath
	}
	if metaPath != "" {
		cfg.Local.MetadataPath = metaPath
	}
	if backend != "" {
		cfg.Remote.Backend = backend
	}
	if url != "" {
		cfg.Remote.URL = url
	}
	if model != "" {
		cfg.Remote.Model = model
	}
	if historyPath != "" {
		cfg.History.Path = historyPath
	}
	if noRemote {
		cfg.Remote.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	cam, cleanup, err := buildCamera(in)
	if err != nil {
		log.Fatal(err)
	}
	defer cleanup()

	classifier, err := local.New(cfg.Local.ModelPath, cfg.Local.MetadataPath)
	if err != nil {
		log.Fatalf("Failed to load local model: %v", err)
	}
	defer classifier.Close()

	var analyzer session.RemoteAnalyzer
	if cfg.Remote.Enabled {
		var visionClient client.VisionClient
		switch cfg.Remote.Backend {
		case "ollama":
			visionClient, err = ollama.NewClient(cfg.Remote.URL)
		case "llamacpp":
			visionClient, err = llamacpp.NewClient(cfg.Remote.URL)
		}
		if err != nil {
			log.Fatalf("Failed to create %s client: %v", cfg.Remote.Backend, err)
		}
		analyzer = remote.New(visionClient, cfg.Remote.Model)
	}

	var recorder session.Recorder
	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			log.Fatalf("Failed to open history: %v", err)
		}
		defer store.Close()
		recorder = store
	}

	preparer := processing.NewProcessor()
	preparer.SetFocus(focus.New())

	interval := time.Duration(cfg.Scan.IntervalMS) * time.Millisecond
	sess, err := session.New(session.Deps{
		Camera:   cam,
		Local:    classifier,
		Remote:   analyzer,
		Preparer: preparer,
		Recorder: recorder,
		Logger:   logger,
	}, session.Options{
		Interval:        interval,
		Window:          cfg.Scan.Window,
		History:         cfg.Scan.History,
		RunLength:       cfg.Scan.RunLength,
		RejectThreshold: cfg.Scan.RejectThreshold,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer sess.Close()

	ctx := context.Background()
	if err := sess.Start(ctx); err != nil {
		log.Fatal(err)
	}

	// Let the scan loop build up a stability window before capturing.
	time.Sleep(time.Duration(ticks+1) * interval)

	analysis, err := sess.Capture(ctx)
	if err != nil {
		log.Fatalf("Analysis failed: %v", err)
	}

	if analysis.State == session.StateAwaitingUserChoice && choose != "" {
		analysis, err = sess.Resolve(ctx, types.Source(choose))
		if err != nil {
			log.Fatal(err)
		}
	}

	out, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(out))

	if analysis.State == session.StateAwaitingUserChoice {
		fmt.Fprintln(os.Stderr, "The classifiers disagree; rerun with -choose local or -choose remote to pick a side.")
	}
}

// buildCamera turns the input argument into a frame source: a directory of
// frames, a single file, or a URL fetched to a temporary file.
func buildCamera(in string) (session.Camera, func(), error) {
	cleanup := func() {}

	if utils.DirExists(in) {
		files, err := utils.ListImageFiles(in)
		if err != nil {
			return nil, cleanup, fmt.Errorf("list frames: %w", err)
		}
		if len(files) == 0 {
			return nil, cleanup, fmt.Errorf("no image files in %s", in)
		}
		return camera.NewFileCamera(files, true), cleanup, nil
	}

	if utils.FileExists(in) {
		if !utils.IsImageFile(in) {
			return nil, cleanup, fmt.Errorf("%s is not an image file", in)
		}
		return camera.NewFileCamera([]string{in}, true), cleanup, nil
	}

	// URL: fetch once, stage as a temporary frame file.
	processor := processing.NewProcessor()
	img, err := processor.LoadImageSmart(in)
	if err != nil {
		return nil, cleanup, err
	}
	tmp, err := os.CreateTemp("", "gourdsight-*.jpg")
	if err != nil {
		return nil, cleanup, err
	}
	tmp.Close()
	if err := processor.SaveImage(img, tmp.Name(), "jpg", 90, false); err != nil {
		os.Remove(tmp.Name())
		return nil, cleanup, err
	}
	cleanup = func() { os.Remove(tmp.Name()) }
	return camera.NewFileCamera([]string{tmp.Name()}, true), cleanup, nil
}
