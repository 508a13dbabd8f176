package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"node.town/tabscribe/bus"
	"node.town/tabscribe/capture"
	"node.town/tabscribe/config"
	apphttp "node.town/tabscribe/http"
	"node.town/tabscribe/metrics"
	"node.town/tabscribe/session"
	"node.town/tabscribe/snd"
	"node.town/tabscribe/snd/backends"
	"node.town/tabscribe/stt"
	"node.town/tabscribe/ui"
)

var (
	logger  *log.Logger
	cfgFile string
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./config.yaml)")
	rootCmd.PersistentFlags().String("backend-url", "", "Speech backend websocket URL")
	rootCmd.PersistentFlags().String("audio-backend", "", "Audio backend: miniaudio or portaudio")
	rootCmd.PersistentFlags().Int("http-port", 0, "HTTP control port, 0 disables")
	rootCmd.PersistentFlags().String("log-level", "", "Log level")

	viper.BindPFlag("backend_url", rootCmd.PersistentFlags().Lookup("backend-url"))
	viper.BindPFlag(
		"audio_backend",
		rootCmd.PersistentFlags().Lookup("audio-backend"),
	)
	viper.BindPFlag("http_port", rootCmd.PersistentFlags().Lookup("http-port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	listenCmd.Flags().Int("tab", 0, "Tab to capture")
	listenCmd.Flags().String("source", "", "Source language")
	listenCmd.Flags().String("target", "", "Target language")
	listenCmd.Flags().Bool("plain", false, "Print lines instead of the terminal UI")
	listenCmd.Flags().Bool("pick", false, "Choose tab and languages in a form first")
	listenCmd.Flags().Bool("start", true, "Start capturing right away")
	listenCmd.Flags().Bool("no-monitor", false, "Do not play captured audio locally")

	configInitCmd.Flags().StringP("output", "o", "config.yaml", "File to write")
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(configCmd)
}

func initConfig() {
	config.SetDefaults(viper.GetViper())
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
	}

	logger = log.New(os.Stderr)
}

var rootCmd = &cobra.Command{
	Use:   "tabscribe",
	Short: "tabscribe streams tab audio to a speech backend",
	Long:  `tabscribe captures the audio of a browser tab, streams it to a speech backend and shows the live transcript and translation.`,
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Capture a tab and show its transcript",
	Run:   runListen,
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices",
	Run:   runDevices,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config",
	Run:   runConfigInit,
}

func loadConfig() config.Config {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		logger.Fatal("load config", "error", err.Error())
	}
	return cfg
}

func runListen(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	tabID, _ := cmd.Flags().GetInt("tab")
	plain, _ := cmd.Flags().GetBool("plain")
	pick, _ := cmd.Flags().GetBool("pick")
	autostart, _ := cmd.Flags().GetBool("start")
	if noMonitor, _ := cmd.Flags().GetBool("no-monitor"); noMonitor {
		cfg.Monitor = false
	}

	langs := cfg.DefaultLanguages()
	if source, _ := cmd.Flags().GetString("source"); source != "" {
		langs.Source = source
	}
	if target, _ := cmd.Flags().GetString("target"); target != "" {
		langs.Target = target
	}

	if pick {
		var err error
		tabID, langs, err = ui.Pick(tabID, langs, cfg.Languages)
		if err != nil {
			logger.Fatal("pick session", "error", err.Error())
		}
	}
	if err := langs.Validate(); err != nil {
		logger.Fatal("check languages", "error", err.Error())
	}

	if !plain {
		// the terminal belongs to the UI
		logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			logger.Fatal("open log file", "error", err.Error())
		}
		defer logFile.Close()
		logger.SetOutput(logFile)
	}

	level, _ := log.ParseLevel(cfg.LogLevel)
	mainLogger, ctrlLogger, captLogger, sockLogger, viewLogger, httpLogger := createLoggers(level)

	backend, err := backends.New(cfg.AudioBackend)
	if err != nil {
		mainLogger.Fatal("open audio backend", "error", err.Error())
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	b := bus.New(mainLogger)
	newChannel := func(emit func(stt.Event)) capture.Channel {
		return stt.NewChannel(cfg.Channel(), emit,
			stt.WithLogger(sockLogger),
			stt.WithMetrics(m),
		)
	}
	host := capture.NewHost(func() *capture.Engine {
		return capture.NewEngine(b, backend, newChannel,
			capture.WithLogger(captLogger),
			capture.WithMetrics(m),
			capture.WithMonitor(cfg.Monitor),
		)
	}, captLogger)
	ctrl := session.New(b, host, cfg.DeviceMap(),
		session.WithLogger(ctrlLogger),
		session.WithMetrics(m),
		session.WithIndicator(session.IndicatorFunc(func(on bool) {
			mainLogger.Info("indicator", "capturing", on)
		})),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ctrl.Run(ctx) })

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sc)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case sig := <-sc:
				if sig == syscall.SIGHUP {
					mainLogger.Info("hangup")
					host.Hide()
					continue
				}
				mainLogger.Info("signal", "signal", sig)
				cancel()
				return nil
			}
		}
	})

	if cfg.HTTPPort > 0 {
		srv := &apphttp.Server{
			Controller: ctrl,
			Bus:        b,
			Defaults:   langs,
			Metrics:    m,
			Gatherer:   reg,
			Logger:     httpLogger,
		}
		g.Go(func() error {
			return apphttp.Serve(ctx, cfg.HTTPPort, srv.Routes(), httpLogger)
		})
	}

	if autostart {
		g.Go(func() error {
			if err := ctrl.Start(ctx, tabID, langs); err != nil && ctx.Err() == nil {
				mainLogger.Error("start session", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer cancel()
		if plain {
			return ui.RunPlain(ctx, b, os.Stdout)
		}
		return ui.Run(ctx, b, ctrl, ui.Options{
			TabID:     tabID,
			Languages: langs,
			Cycle:     cfg.Languages,
			Logger:    viewLogger,
		})
	})

	if err := g.Wait(); err != nil {
		mainLogger.Fatal("listen", "error", err.Error())
	}
}

func runDevices(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	backend, err := backends.New(cfg.AudioBackend)
	if err != nil {
		logger.Fatal("open audio backend", "error", err.Error())
	}
	devices, err := backend.Devices()
	if err != nil {
		logger.Fatal("list devices", "error", err.Error())
	}
	if len(devices) == 0 {
		fmt.Println("No capture devices found.")
		return
	}
	writeDeviceTable(cmd.OutOrStdout(), devices, cfg.DeviceMap())
}

func writeDeviceTable(w io.Writer, devices []snd.Device, tabs snd.DeviceMap) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Name", "Default", "Channels", "Backend", "Tabs"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	for _, d := range devices {
		def := ""
		if d.Default {
			def = "*"
		}
		table.Append([]string{
			d.Name,
			def,
			strconv.Itoa(d.Channels),
			d.Backend,
			tabsFor(tabs, d),
		})
	}
	table.Render()
}

// tabsFor lists the tabs captured from d. The default device also serves
// every unmapped tab.
func tabsFor(tabs snd.DeviceMap, d snd.Device) string {
	var ids []int
	for id, h := range tabs {
		if string(h) == d.Name {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	parts := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		parts = append(parts, strconv.Itoa(id))
	}
	if d.Default {
		parts = append(parts, "others")
	}
	return strings.Join(parts, ",")
}

func runConfigInit(cmd *cobra.Command, args []string) {
	path, _ := cmd.Flags().GetString("output")
	force, _ := cmd.Flags().GetBool("force")
	if err := writeDefaultConfig(path, force); err != nil {
		logger.Fatal("write config", "error", err.Error())
	}
	logger.Info("wrote config", "path", path)
}

func writeDefaultConfig(path string, force bool) error {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	return config.Default().WriteYAML(f)
}

func createLoggers(level log.Level) (mainLogger, ctrlLogger, captLogger, sockLogger, viewLogger, httpLogger *log.Logger) {
	logger.SetLevel(level)
	logger.SetReportCaller(true)
	logger.SetCallerFormatter(
		func(file string, line int, funcName string) string {
			path, err := filepath.Rel(".", file)
			if err != nil {
				path = file
			}
			return fmt.Sprintf("%s:%d", path, line)
		},
	)

	styles := log.DefaultStyles()
	styles.Prefix = styles.Prefix.MarginTop(1).
		Bold(false).Transform(func(s string) string {
		return strings.TrimSuffix(s, ":")
	})
	styles.Levels[log.InfoLevel] = styles.Levels[log.InfoLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Levels[log.ErrorLevel] = styles.Levels[log.ErrorLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Message = styles.Message.Bold(true).Width(24)
	styles.Key = styles.Key.MarginLeft(1).
		Bold(false).
		Foreground(lipgloss.Color("#ff8800"))

	logger.SetStyles(styles)

	mainLogger = logger.With().WithPrefix("main")
	ctrlLogger = logger.With().WithPrefix("ctrl")
	captLogger = logger.With().WithPrefix("capt")
	sockLogger = logger.With().WithPrefix("sock")
	viewLogger = logger.With().WithPrefix("view")
	httpLogger = logger.With().WithPrefix("http")

	return
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
