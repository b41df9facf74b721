package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"os/user"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"chardevfs/internal/chardev"
	"chardevfs/internal/config"
	"chardevfs/internal/devtable"
	chardevfuse "chardevfs/internal/fuse"
	"chardevfs/internal/logging"
	"chardevfs/internal/retry"
)

// cliConfig captures parsed command-line flags.
type cliConfig struct {
	showVersion bool
	debug       bool
	logLevel    string
	allowOther  bool
	deviceName  string
	configPath  string
	mountPoint  string

	// explicit holds the names of flags given on the command line.
	explicit map[string]bool
}

type cliError struct {
	exitCode int
	msg      string
	printed  bool
}

func (e *cliError) Error() string {
	return e.msg
}

type mountServer interface {
	Wait()
	Unmount() error
}

type runDeps struct {
	loadConfig    func(string) (*config.File, error)
	currentUser   func() (*user.User, error)
	newDevice     func() devtable.Operations
	newRootNode   func(*devtable.Table, *chardevfuse.NodeConfig) (*chardevfuse.RootNode, error)
	mount         func(string, fs.InodeEmbedder, *fs.Options) (mountServer, error)
	signalContext func() (context.Context, context.CancelFunc)
	versionOut    func(string)
	mountRetry    retry.Config
}

func defaultDeps() runDeps {
	return runDeps{
		loadConfig:  config.Load,
		currentUser: user.Current,
		newDevice: func() devtable.Operations {
			return chardev.New()
		},
		newRootNode: chardevfuse.NewRootNode,
		mount: func(mountPoint string, root fs.InodeEmbedder, opts *fs.Options) (mountServer, error) {
			return fs.Mount(mountPoint, root, opts)
		},
		signalContext: func() (context.Context, context.CancelFunc) {
			return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		},
		versionOut: func(s string) {
			fmt.Print(s)
		},
		mountRetry: retry.DefaultConfig(),
	}
}

func parseArgs(args []string) (cliConfig, error) {
	var cfg cliConfig
	if len(args) == 0 {
		return cfg, &cliError{exitCode: 1, msg: "Usage: chardevfs [flags] MOUNTPOINT"}
	}

	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)

	showVersion := fs.Bool("version", false, "print version and exit")
	debug := fs.Bool("debug", false, "print debug data (equivalent to --log-level=debug)")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	allowOther := fs.Bool("allow-other", false, "allow other users to access the mount")
	deviceName := fs.String("name", config.DefaultDeviceName, "name of the device file")
	configPath := fs.String("config", "", "path to a YAML config file")

	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return cfg, &cliError{exitCode: 0, printed: true}
		}
		return cfg, &cliError{exitCode: 2, msg: err.Error(), printed: true}
	}

	cfg = cliConfig{
		showVersion: *showVersion,
		debug:       *debug,
		logLevel:    *logLevel,
		allowOther:  *allowOther,
		deviceName:  *deviceName,
		configPath:  *configPath,
		explicit:    make(map[string]bool),
	}
	fs.Visit(func(f *flag.Flag) {
		cfg.explicit[f.Name] = true
	})

	if fs.NArg() > 0 {
		cfg.mountPoint = fs.Arg(0)
	}

	// The mount point may also come from the config file.
	if cfg.mountPoint == "" && cfg.configPath == "" && !cfg.showVersion {
		return cfg, &cliError{exitCode: 1, msg: fmt.Sprintf("Usage: %s [flags] MOUNTPOINT", args[0])}
	}

	return cfg, nil
}

// applyConfigFile fills settings not given on the command line from f.
func applyConfigFile(cfg cliConfig, f *config.File) cliConfig {
	if f == nil {
		return cfg
	}
	if cfg.mountPoint == "" {
		cfg.mountPoint = f.Mount.Point
	}
	if !cfg.explicit["name"] && f.Device.Name != "" {
		cfg.deviceName = f.Device.Name
	}
	if !cfg.explicit["allow-other"] && f.Mount.AllowOther != nil {
		cfg.allowOther = *f.Mount.AllowOther
	}
	if !cfg.explicit["log-level"] && f.Logger.Level != "" {
		cfg.logLevel = f.Logger.Level
	}
	if !cfg.explicit["debug"] && f.Logger.Debug != nil {
		cfg.debug = *f.Logger.Debug
	}
	return cfg
}

func validateConfig(cfg cliConfig) error {
	if cfg.mountPoint == "" {
		return &cliError{exitCode: 1, msg: "Usage: chardevfs [flags] MOUNTPOINT (or mount.point in the config file)"}
	}
	if err := devtable.ValidateName(cfg.deviceName); err != nil {
		return &cliError{exitCode: 1, msg: fmt.Sprintf("Invalid device name: %v", err)}
	}
	if !logging.ValidLevel(cfg.logLevel) {
		return &cliError{exitCode: 1, msg: fmt.Sprintf("Invalid log level: %q (must be debug, info, warn or error)", cfg.logLevel)}
	}
	return nil
}

func buildNodeConfig(ownerUid uint32, allowOther bool) *chardevfuse.NodeConfig {
	return &chardevfuse.NodeConfig{
		OwnerUid:       ownerUid,
		RestrictAccess: !allowOther,
	}
}

func buildMountOptions(allowOther bool, debug bool) *fs.Options {
	// Device contents change on every write; keep kernel caching short.
	attrTimeout := 1 * time.Second
	entryTimeout := 30 * time.Second
	negativeTimeout := 1 * time.Second

	opts := &fs.Options{
		AttrTimeout:     &attrTimeout,
		EntryTimeout:    &entryTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			AllowOther: allowOther,
			Name:       "chardevfs",
			FsName:     "chardevfs",
		},
	}
	opts.Debug = debug
	return opts
}

func versionString() string {
	return fmt.Sprintf("chardevfs %s (commit: %s, built: %s)\n", version, commit, date)
}

func run(args []string, deps runDeps) error {
	cfg, err := parseArgs(args)
	if err != nil {
		return err
	}

	if cfg.showVersion {
		deps.versionOut(versionString())
		return nil
	}

	if cfg.configPath != "" {
		file, err := deps.loadConfig(cfg.configPath)
		if err != nil {
			return &cliError{exitCode: 1, msg: fmt.Sprintf("Failed to load config: %v", err)}
		}
		cfg = applyConfigFile(cfg, file)
	}

	if err := validateConfig(cfg); err != nil {
		return err
	}

	// Set log level (--debug takes precedence for backward compatibility)
	if cfg.debug {
		logging.SetLevel(logging.LevelDebug)
	} else {
		logging.SetLevel(logging.ParseLevel(cfg.logLevel))
	}

	// Register the device in the driver table
	table := devtable.New()
	entry, err := table.Register(cfg.deviceName, deps.newDevice())
	if err != nil {
		return fmt.Errorf("Failed to register device %s: %w", cfg.deviceName, err)
	}

	// Get current user's UID for access control
	currentUser, err := deps.currentUser()
	if err != nil {
		return fmt.Errorf("Failed to get current user: %w", err)
	}
	ownerUid, err := strconv.ParseUint(currentUser.Uid, 10, 32)
	if err != nil {
		return fmt.Errorf("Failed to parse UID: %w", err)
	}

	// When --allow-other is enabled, all local users can use the device
	nodeConfig := buildNodeConfig(uint32(ownerUid), cfg.allowOther)
	if cfg.allowOther {
		logging.Infof("allow-other enabled: all local users can access the device")
	} else {
		logging.Debugf("Access control enabled: only UID %d can access the device", ownerUid)
	}

	root, err := deps.newRootNode(table, nodeConfig)
	if err != nil {
		return fmt.Errorf("Failed to create root node: %w", err)
	}

	// Signal handling for graceful shutdown
	ctx, stop := deps.signalContext()
	defer stop()

	// Mount filesystem, retrying while a stale mount still holds the mount point
	opts := buildMountOptions(cfg.allowOther, cfg.debug)
	var server mountServer
	err = retry.Do(ctx, deps.mountRetry, "mount "+cfg.mountPoint, retry.IsMountRetryable, func() error {
		s, err := deps.mount(cfg.mountPoint, root, opts)
		if err != nil {
			return err
		}
		server = s
		return nil
	})
	if err != nil {
		table.UnregisterAll()
		return fmt.Errorf("Mount fail: %w", err)
	}
	logging.Infof("Device created at %s/%s (%d:%d)", cfg.mountPoint, entry.Name, entry.Major, entry.Minor)
	logging.Infof("Press Ctrl+C to unmount")

	var unmountOnce sync.Once
	unmount := func() {
		unmountOnce.Do(func() {
			if err := server.Unmount(); err != nil {
				log.Printf("Unmount error: %v", err)
			}
		})
	}

	// Unmount on signal. The goroutine also ends when the filesystem is
	// unmounted from outside, and run does not return before it has.
	served, cancelServed := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-served.Done()
		if ctx.Err() != nil {
			log.Println("Shutdown signal received, unmounting...")
			unmount()
		}
	}()

	server.Wait()
	cancelServed()
	<-done

	removed := table.UnregisterAll()
	if removed > 0 {
		log.Printf("Unregistered %d device(s)", removed)
	}
	return nil
}
