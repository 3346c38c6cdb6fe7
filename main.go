// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The flipbook command plays a sequence of images as an animation.
//
// Frames may be given as local paths, file, http or https URLs, or data
// URIs. A single animated GIF is expanded into its frames. Playback is
// shown in the terminal and may be controlled with the space bar and the
// left and right arrow keys, or from another process with the -ctl flag.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/gofrs/flock"
	"github.com/kortschak/ardilla"
	"github.com/kortschak/jsonrpc2"

	"github.com/kortschak/flipbook/internal/animation"
	"github.com/kortschak/flipbook/internal/audio"
	"github.com/kortschak/flipbook/internal/cache"
	"github.com/kortschak/flipbook/internal/config"
	"github.com/kortschak/flipbook/internal/deck"
	"github.com/kortschak/flipbook/internal/inhibit"
	"github.com/kortschak/flipbook/internal/loader"
	"github.com/kortschak/flipbook/internal/selector"
	"github.com/kortschak/flipbook/internal/slogext"
	"github.com/kortschak/flipbook/internal/sprite"
	"github.com/kortschak/flipbook/internal/stream"
	"github.com/kortschak/flipbook/internal/term"
	"github.com/kortschak/flipbook/internal/version"
	"github.com/kortschak/flipbook/internal/viewer"
	"github.com/kortschak/flipbook/internal/xdg"
	"github.com/kortschak/flipbook/rpc"
)

func main() {
	os.Exit(Main())
}

// Exit codes.
const (
	success    = 0
	internal   = 1
	invocation = 2
)

// options are the settings that may be given by flag or in the
// configuration file. Flags take precedence.
type options struct {
	fps       float64
	volume    float64
	sprite    bool
	cache     string
	network   string
	deck      bool
	deckPID   ardilla.PID
	serial    string
	level     *slog.LevelVar
	addSource *atomic.Bool

	// set holds the names of flags given on the
	// command line.
	set map[string]bool
}

func Main() int {
	fps := flag.Float64("fps", 0, "playback frame rate (default 24 or the GIF frame rate)")
	volume := flag.Float64("volume", viewer.DefaultVolume, "initial audio volume in [0, 1]")
	audioSrc := flag.String("audio", "", "audio source synchronised with playback")
	useSprite := flag.Bool("sprite", false, "assemble frames into a cached sprite sheet")
	key := flag.String("key", "", "sprite cache key (default "+sprite.DefaultKey+")")
	cacheName := flag.String("cache", "", "sprite cache: SQLite path, postgres:// DSN or :memory: (default in XDG cache dir)")
	timeout := flag.Duration("timeout", loader.DefaultTimeout, "per-frame load timeout")
	skip := flag.Bool("skip", false, "replace frames that fail to load with a placeholder")
	network := flag.String("net", "unix", "control server network (unix or tcp, empty to disable)")
	wsAddr := flag.String("ws", "", "serve playback events over websocket at ws://addr/status")
	useDeck := flag.Bool("deck", false, "mirror playback to a Stream Deck")
	serial := flag.String("serial", "", "Stream Deck serial number (default first available)")
	ctl := flag.String("ctl", "", "send method[=arg] to a running flipbook and exit")
	cfgPath := flag.String("config", "", "configuration file (default in XDG config dir)")
	page := flag.String("page", "", "HTML page to read frame images from")
	sel := flag.String("select", "", "CEL expression selecting and ordering frames")
	logging := flag.String("log", "info", "logging level (debug, info, warn or error)")
	lines := flag.Bool("lines", false, "display source line details in logs")
	v := flag.Bool("version", false, "print version and exit")
	once := flag.Bool("once", false, "load, paint the first frame, print status and exit")
	headless := flag.Bool("headless", false, "do not render to the terminal")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] frames...\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if *v {
		err := version.Fprint(os.Stdout)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return internal
		}
		return success
	}
	opts := options{
		fps:     *fps,
		volume:  *volume,
		sprite:  *useSprite,
		cache:   *cacheName,
		network: *network,
		deck:    *useDeck,
		serial:  *serial,
		set:     make(map[string]bool),
	}
	flag.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })

	var level slog.LevelVar
	err := level.UnmarshalText([]byte(*logging))
	if err != nil {
		flag.Usage()
		return invocation
	}
	addSource := slogext.NewAtomicBool(*lines)
	opts.level = &level
	opts.addSource = addSource

	interactive := !*once && !*headless && *ctl == ""

	// log is the root logger.
	handlerOpts := &slogext.HandlerOptions{
		Level:     &level,
		AddSource: addSource,
	}
	var handler slog.Handler
	if interactive && term.IsTerminal(int(os.Stderr.Fd())) {
		// The terminal is used for rendering, so send logs to a file.
		f, err := logFile()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			return internal
		}
		defer f.Close()
		handler = slogext.NewTextHandler(f, handlerOpts)
	} else {
		handler = slogext.NewJSONHandler(os.Stderr, handlerOpts)
	}
	log := slog.New(slogext.GoID{Handler: handler})
	// mlog is the logger for main.
	mlog := log.With(slog.String("component", "flipbook.main"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		log.LogAttrs(ctx, slog.LevelInfo, "terminating")
		cancel()
	}()

	if *ctl != "" {
		if flag.NArg() != 0 {
			flag.Usage()
			return invocation
		}
		return control(ctx, *ctl)
	}

	cfgFile := *cfgPath
	if cfgFile == "" {
		cfgFile, err = configPath()
		if err != nil {
			mlog.LogAttrs(ctx, slog.LevelWarn, "no config path", slog.Any("error", err))
		}
	}
	if cfgFile != "" {
		cfg, err := config.Read(cfgFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			mlog.LogAttrs(ctx, slog.LevelDebug, "no config file", slog.String("path", cfgFile))
		case cfg == nil:
			fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
			return invocation
		default:
			if err != nil {
				mlog.LogAttrs(ctx, slog.LevelWarn, "invalid config fields ignored", slog.Any("error", err))
			}
			mlog.LogAttrs(ctx, slog.LevelDebug, "config", slog.String("path", cfgFile), slog.Any("sum", cfg.Sum))
			opts.applyStatic(cfg)
		}
	}

	res := &loader.Resolver{}
	res.Dir, err = os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return internal
	}

	uris := flag.Args()
	if *page != "" {
		srcs, err := pageImages(ctx, res, *page)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read page: %v\n", err)
			return internal
		}
		uris = append(uris, srcs...)
	}
	var fetcher loader.Fetcher = res
	if len(uris) == 1 {
		expanded, delay, ok, err := expandGIF(ctx, res, uris[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to expand gif: %v\n", err)
			return internal
		}
		if ok {
			mlog.LogAttrs(ctx, slog.LevelInfo, "expanded gif", slog.Int("frames", len(expanded.uris)), slog.Duration("delay", delay))
			uris = expanded.uris
			fetcher = expanded
			if opts.fps == 0 && delay > 0 {
				opts.fps = float64(time.Second) / float64(delay)
			}
		}
	}
	if *sel != "" {
		s, err := selector.Compile(*sel, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid selector: %v\n", err)
			return invocation
		}
		uris, err = s.Select(uris)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to select frames: %v\n", err)
			return invocation
		}
	}
	if len(uris) == 0 {
		flag.Usage()
		return invocation
	}
	if opts.volume < 0 || 1 < opts.volume {
		fmt.Fprintf(os.Stderr, "invalid volume: %v\n", opts.volume)
		return invocation
	}

	var store cache.Handle
	if opts.sprite {
		name := opts.cache
		if name == "" {
			dir, err := xdg.CacheHome.Ensure("flipbook", 0o755)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to find cache directory: %v\n", err)
				return internal
			}
			name = filepath.Join(dir, "sprites.sqlite3")
		}
		store, err = cache.Open(ctx, name, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open sprite cache: %v\n", err)
			return internal
		}
		defer store.Close()
	}

	var (
		bus       viewer.Bus
		renderers []func(viewer.View)
		closers   []func() error
	)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			err := closers[i]()
			if err != nil {
				mlog.LogAttrs(ctx, slog.LevelWarn, "close", slog.Any("error", err))
			}
		}
	}()

	if interactive {
		out := int(os.Stdout.Fd())
		r := term.NewRenderer(os.Stdout, func() (int, int, error) { return term.Size(out) })
		r.Mode = term.EnvMode()
		renderers = append(renderers, r.Render)
		closers = append(closers, r.Close)
		in := int(os.Stdin.Fd())
		if term.IsTerminal(in) {
			restore, err := term.MakeRaw(in)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to set raw mode: %v\n", err)
				return internal
			}
			closers = append(closers, restore)
			go func() {
				err := term.Keys(ctx, os.Stdin, &bus, cancel, log)
				if err != nil && !errors.Is(err, context.Canceled) {
					mlog.LogAttrs(ctx, slog.LevelWarn, "keyboard", slog.Any("error", err))
				}
			}()
		}
	}
	if opts.deck && !*once {
		m, err := deck.Open(ctx, opts.deckPID, opts.serial, bus.Dispatch, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open deck: %v\n", err)
			return internal
		}
		renderers = append(renderers, m.Render)
		closers = append(closers, m.Close)
	}
	if *wsAddr != "" && !*once {
		hub := stream.NewHub(log)
		srv, err := stream.Listen(ctx, *wsAddr, hub, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start event stream: %v\n", err)
			return internal
		}
		mlog.LogAttrs(ctx, slog.LevelInfo, "event stream", slog.String("addr", srv.Addr().String()))
		renderers = append(renderers, hub.Render)
		closers = append(closers, srv.Close)
	}
	if !*once {
		sess, err := inhibit.NewSession()
		if err != nil {
			mlog.LogAttrs(ctx, slog.LevelWarn, "no screensaver inhibitor", slog.Any("error", err))
		} else {
			f := inhibit.NewFollower(sess, log)
			renderers = append(renderers, f.Render)
			closers = append(closers, sess.Close, f.Close)
		}
	}

	policy := loader.FailFast
	if *skip {
		policy = loader.Skip
	}
	var paints sync.WaitGroup
	paints.Add(1)
	var painted sync.Once
	ctrl, err := viewer.New(ctx, viewer.Options{
		Frames: uris,
		Audio:  *audioSrc,
		Render: func(v viewer.View) {
			if v.Canvas != nil {
				painted.Do(paints.Done)
			}
			for _, r := range renderers {
				r(v)
			}
		},
		Sprite:      opts.sprite,
		CacheKey:    *key,
		FPS:         opts.fps,
		Volume:      &opts.volume,
		Fetcher:     fetcher,
		Cache:       store,
		Keyboard:    &bus,
		AudioTrack:  audio.New(res, log),
		LoadTimeout: *timeout,
		LoadPolicy:  policy,
		Log:         log,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start viewer: %v\n", err)
		return invocation
	}
	closers = append(closers, ctrl.Close)

	if *once {
		return report(ctx, ctrl, &paints)
	}

	if opts.network != "" {
		dir, err := rpc.Dir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to find runtime directory: %v\n", err)
			return internal
		}
		pidFile := filepath.Join(dir, "pid")
		fl := flock.New(pidFile)
		ok, err := fl.TryLock()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return internal
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "flipbook is already running")
			return internal
		}
		closers = append(closers, func() error {
			os.Remove(filepath.Join(dir, rpc.EndpointFile))
			os.Remove(pidFile)
			return fl.Unlock()
		})
		err = os.WriteFile(pidFile, []byte(fmt.Sprintln(os.Getpid())), 0o600)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return internal
		}

		srv, err := rpc.NewServer(ctx, opts.network, dir, ctrl, cancel, jsonrpc2.NetListenOptions{}, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start control server: %v\n", err)
			return internal
		}
		closers = append(closers, srv.Close)
		err = rpc.WriteEndpoint(dir, srv.Addr())
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to write control endpoint: %v\n", err)
			return internal
		}
		mlog.LogAttrs(ctx, slog.LevelInfo, "control server", slog.String("network", srv.Addr().Network()), slog.String("addr", srv.Addr().String()))
	}

	if cfgFile != "" {
		changes := make(chan config.Change)
		w, err := config.NewWatcher(ctx, cfgFile, changes, -1, log)
		if err != nil {
			mlog.LogAttrs(ctx, slog.LevelWarn, "config watcher", slog.Any("error", err))
		} else {
			closers = append(closers, w.Close)
			go w.Watch(ctx)
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case cfg := <-changes:
						opts.applyLive(ctx, cfg, ctrl, mlog)
					}
				}
			}()
		}
	}

	if interactive {
		go func() {
			select {
			case <-ctx.Done():
			case <-ctrl.Ready():
				ctrl.Play()
			}
		}()
	}

	<-ctx.Done()
	if ctrl.State() == viewer.Failed {
		return internal
	}
	return success
}

// report waits for the first paint or a load failure and prints the
// controller status to stdout.
func report(ctx context.Context, ctrl *viewer.Controller, paints *sync.WaitGroup) int {
	select {
	case <-ctx.Done():
		return internal
	case <-ctrl.Ready():
	}
	if ctrl.State() != viewer.Failed {
		paints.Wait()
	}
	status := ctrl.Status()
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	err := enc.Encode(struct {
		Progress loader.Progress `json:"progress"`
		Status   viewer.Status   `json:"status"`
	}{
		Progress: ctrl.Progress(),
		Status:   status,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return internal
	}
	if status.State == viewer.Failed {
		return internal
	}
	return success
}

// control sends a command to a running flipbook and prints the response.
func control(ctx context.Context, cmd string) int {
	method, body, err := rpc.ParseCommand(cmd)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return invocation
	}
	dir, err := rpc.Dir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to find runtime directory: %v\n", err)
		return internal
	}
	ep, err := rpc.ReadEndpoint(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "no running flipbook: %v\n", err)
		return internal
	}
	dialer := net.Dialer{Timeout: 5 * time.Second}
	cli, err := rpc.Dial(ctx, ep.Network, ep.Addr, dialer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		return internal
	}
	defer cli.Close()
	resp, err := rpc.Call[json.RawMessage](ctx, cli, method, body)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return internal
	}
	fmt.Printf("%s\n", resp)
	return success
}

// logFile opens the flipbook log file in the user's cache directory for
// appending.
func logFile() (*os.File, error) {
	dir, err := xdg.CacheHome.Ensure("flipbook", 0o755)
	if err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, "flipbook.log"), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
}

// configPath returns the path to the flipbook configuration file.
func configPath() (string, error) {
	name := filepath.Join("flipbook", config.FileName)
	path, err := xdg.Find(name, xdg.ConfigHome, xdg.ConfigDirs)
	if err == nil {
		return path, nil
	}
	dir, ok := xdg.ConfigHome.Path()
	if !ok {
		return "", errors.New("no xdg config directory")
	}
	return filepath.Join(dir, name), nil
}

// applyStatic applies configuration values that are not overridden by
// flags.
func (o *options) applyStatic(cfg *config.Config) {
	if cfg.FPS != nil && !o.set["fps"] {
		o.fps = *cfg.FPS
	}
	if cfg.Volume != nil && !o.set["volume"] {
		o.volume = *cfg.Volume
	}
	if cfg.Sprite != nil && !o.set["sprite"] {
		o.sprite = *cfg.Sprite
	}
	if cfg.Cache != nil && !o.set["cache"] {
		o.cache = *cfg.Cache
	}
	if cfg.Network != "" && !o.set["net"] {
		o.network = cfg.Network
	}
	if cfg.Deck != nil && !o.set["deck"] {
		o.deck = true
		o.deckPID = cfg.Deck.PID
		if cfg.Deck.Serial != nil && !o.set["serial"] {
			o.serial = *cfg.Deck.Serial
		}
	}
	o.applyLogging(cfg)
}

// applyLive applies reloadable configuration values that are not
// overridden by flags.
func (o *options) applyLive(ctx context.Context, change config.Change, ctrl *viewer.Controller, log *slog.Logger) {
	if change.Err != nil {
		log.LogAttrs(ctx, slog.LevelWarn, "config error", slog.Any("error", change.Err))
	}
	cfg := change.Config
	if cfg == nil {
		return
	}
	log.LogAttrs(ctx, slog.LevelInfo, "config change", slog.Any("sum", cfg.Sum))
	if cfg.FPS != nil && !o.set["fps"] {
		err := ctrl.SetFPS(*cfg.FPS)
		if err != nil {
			log.LogAttrs(ctx, slog.LevelWarn, "config fps", slog.Any("error", err))
		}
	}
	if cfg.Volume != nil && !o.set["volume"] {
		err := ctrl.SetVolume(*cfg.Volume)
		if err != nil {
			log.LogAttrs(ctx, slog.LevelWarn, "config volume", slog.Any("error", err))
		}
	}
	o.applyLogging(cfg)
}

func (o *options) applyLogging(cfg *config.Config) {
	if cfg.LogLevel != nil && !o.set["log"] {
		o.level.Set(*cfg.LogLevel)
	}
	if cfg.AddSource != nil && !o.set["lines"] {
		o.addSource.Store(*cfg.AddSource)
	}
}

// pageImages returns the image sources of the HTML page at uri.
func pageImages(ctx context.Context, res *loader.Resolver, uri string) ([]string, error) {
	base, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	if base.Scheme == "" {
		path := uri
		if !filepath.IsAbs(path) {
			path = filepath.Join(res.Dir, path)
		}
		base = &url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	}
	r, err := res.Open(ctx, base.String())
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return loader.ImageSources(r, base)
}

// gifFrames is a loader.Fetcher holding the frames of an expanded GIF.
type gifFrames struct {
	uris   []string
	frames map[string]image.Image
}

func (g gifFrames) Fetch(_ context.Context, uri string) (image.Image, error) {
	img, ok := g.frames[uri]
	if !ok {
		return nil, fmt.Errorf("no frame %s", uri)
	}
	return img, nil
}

// expandGIF returns the frames of the animated GIF at uri. If the
// resource is not a GIF, ok is false.
func expandGIF(ctx context.Context, res *loader.Resolver, uri string) (_ gifFrames, delay time.Duration, ok bool, _ error) {
	rc, err := res.Open(ctx, uri)
	if err != nil {
		// Leave reporting of the failure to the loader.
		return gifFrames{}, 0, false, nil
	}
	defer rc.Close()
	r := animation.AsReadPeeker(rc)
	if !animation.IsGIF(r) {
		return gifFrames{}, 0, false, nil
	}
	imgs, delay, err := animation.DecodeFrames(r)
	if err != nil {
		return gifFrames{}, 0, false, err
	}
	name := uri
	if strings.HasPrefix(uri, "data:") {
		name = "gif"
	}
	g := gifFrames{
		uris:   make([]string, len(imgs)),
		frames: make(map[string]image.Image, len(imgs)),
	}
	for i, img := range imgs {
		u := fmt.Sprintf("%s#%d", name, i)
		g.uris[i] = u
		g.frames[u] = img
	}
	return g, delay, true, nil
}
