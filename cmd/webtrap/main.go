package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xoelrdgz/webtrap/internal/app"
)

var (
	cfgFile string
	listen  string

	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "webtrap",
	Short: "Layered anti-scraping defense pipeline",
	Long: `Webtrap is a layered request-processing pipeline that detects, delays
and blocks automated agents while admitting legitimate traffic.

Layers:
  - Edge Filter: blocklist lookup, bad-agent rejection, header heuristics
  - Tarpit: deterministic slow-streamed fake content with hop accounting
  - Escalation Engine: frequency, heuristic, classifier, reputation and
    LLM scoring of suspicious traffic
  - Enforcement: blocklist writes, community reporting, alert fan-out`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the defense pipeline",
	Long: `Start all pipeline components behind one listener.

Examples:
  webtrap serve
  webtrap serve --config /etc/webtrap/config.yaml
  webtrap serve --listen :8080`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("webtrap %s\n", Version)
		fmt.Printf("Commit:  %s\n", Commit)
		fmt.Printf("Built:   %s\n", BuildTime)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./configs/config.yaml)")
	serveCmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides server.listen)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/webtrap")
	}

	app.SetDefaults(viper.GetViper())
	app.BindEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn().Err(err).Msg("Error reading config file")
		}
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	switch viper.GetString("logging.level") {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	setupLogging()

	if listen != "" {
		viper.Set("server.listen", app.NormalizeListen(listen))
	}

	cfg, err := app.Load(viper.GetViper())
	if err != nil {
		return err
	}

	log.Info().
		Str("listen", cfg.Server.Listen).
		Str("tarpit", cfg.Tarpit.RewritePath).
		Int64("max_hops", cfg.Tarpit.MaxHops).
		Str("alert_method", cfg.Enforce.AlertMethod).
		Msg("Webtrap starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := app.NewRuntime(ctx, cfg)
	if err != nil {
		return err
	}

	return app.Serve(ctx, rt)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
