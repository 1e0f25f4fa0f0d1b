package main

import (
	"bufio"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"murmur/audio"
	"murmur/bus"
	"murmur/config"
	"murmur/log"
	"murmur/session"
	"murmur/shutdown"
)

var version = "dev"

var shutdownOnce sync.Once

func main() {
	run()
}

func gracefulShutdown(orch *Orchestrator) {
	shutdownOnce.Do(func() {
		if orch != nil {
			orch.Cleanup()
		}
		log.Close()
		os.Exit(0)
	})
}

func run() {
	configFlag := flag.String("config", "", "YAML config file (default: murmur.yaml if present)")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	simFlag := flag.String("sim", "", "Simulate capture from a WAV file instead of the microphone")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	pprofFlag := flag.String("pprof", "", "Enable pprof profiling server (e.g., :6060 or localhost:6060)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("murmur %s\n", version)
		os.Exit(0)
	}

	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if *pprofFlag != "" {
		go func() {
			fmt.Fprintf(os.Stderr, "pprof server listening on http://%s/debug/pprof/\n", *pprofFlag)
			if err := http.ListenAndServe(*pprofFlag, nil); err != nil {
				fmt.Fprintf(os.Stderr, "pprof server error: %v\n", err)
			}
		}()
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}

	cfg, err := loadConfig(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	events := bus.New()

	var ctx audio.Context
	if *simFlag != "" {
		samples, rate, err := audio.LoadWAV(*simFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading WAV: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Simulating capture from %s (%.1fs)\n", *simFlag, float64(len(samples))/float64(rate))
		ctx = audio.NewFakeContext(samples, rate, true)
	} else {
		ctx, err = audio.NewContext()
		if err != nil {
			log.Errorf("audio context init error: %v", err)
			fmt.Fprintf(os.Stderr, "Error initializing audio context: %v\n", err)
			os.Exit(1)
		}
	}

	var device *audio.DeviceInfo
	switch {
	case *simFlag != "":
	case *deviceFlag != "":
		device = audio.ResolveDevice(ctx, *deviceFlag)
	case *setupFlag:
		device, err = audio.SelectDevice(ctx)
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Printf("Warning: device selection failed: %v\n", err)
			fmt.Println("Falling back to default device")
			device = nil
		}
	case cfg.Device != "":
		device = audio.ResolveDevice(ctx, cfg.Device)
	}
	if device != nil && audio.IsBluetooth(device.Name) {
		fmt.Printf("Warning: %s looks like a Bluetooth microphone; expect degraded audio while recording\n", device.Name)
	}

	engine := audio.NewEngine(events, ctx, device, audio.EngineConfig{
		SaveDebugAudio: cfg.SaveDebugAudio,
		DebugAudioDir:  cfg.DebugAudioDir,
	})

	orch, err := NewOrchestrator(cfg, events, engine, func(p config.Profile) session.OutputSink {
		return newConsoleSink(p.Name, os.Stdout)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := orch.Start(); err != nil {
		log.Errorf("startup error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	events.Subscribe(bus.ProfileStateChange, func(payload any) {
		if sc, ok := payload.(bus.StateChange); ok && sc.Status != "" {
			fmt.Printf("· %s: %s\n", sc.Profile, sc.Status)
		}
	})
	events.Subscribe(bus.TranscriptionError, func(payload any) {
		if err, ok := payload.(error); ok {
			fmt.Printf("Error: %v\n", err)
		}
	})

	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		<-sigChan
		gracefulShutdown(orch)
	}()

	fmt.Println("Profiles:")
	for _, p := range cfg.Profiles {
		fmt.Printf("  %s  (%s, %s", p.Name, p.Backend, p.Mode)
		if p.Streaming {
			fmt.Print(", streaming")
		}
		fmt.Println(")")
	}
	fmt.Println("Commands: start [profile] | stop [profile] | status | quit")

	controlLoop(orch, cfg)
	gracefulShutdown(orch)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat("murmur.yaml"); err == nil {
		return config.Load("murmur.yaml")
	}
	return config.Default(), nil
}

// controlLoop drives the orchestrator from stdin until EOF or quit. With a
// single configured profile the profile argument may be omitted.
func controlLoop(orch *Orchestrator, cfg *config.Config) {
	defaultProfile := ""
	if len(cfg.Profiles) == 1 {
		defaultProfile = cfg.Profiles[0].Name
	}
	pickProfile := func(args []string) (string, bool) {
		if len(args) > 0 {
			return args[0], true
		}
		if defaultProfile != "" {
			return defaultProfile, true
		}
		fmt.Println("Which profile? (several configured)")
		return "", false
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "start":
			if name, ok := pickProfile(fields[1:]); ok {
				orch.StartRecording(name)
			}
		case "stop":
			if name, ok := pickProfile(fields[1:]); ok {
				orch.StopRecording(name)
			}
		case "status":
			for _, line := range orch.Status() {
				fmt.Println(line)
			}
		case "quit", "exit":
			return
		default:
			fmt.Printf("Unknown command %q\n", fields[0])
		}
	}
}
