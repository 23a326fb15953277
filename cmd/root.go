package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/khanhnv2901/lineaudit/internal/application"
	consts "github.com/khanhnv2901/lineaudit/internal/shared/constants"
)

var cfgFile string
var operator string

// AppContext is what every subcommand receives from the root pre-run.
type AppContext struct {
	Logger     *zap.SugaredLogger
	Operator   string
	ResultsDir string
	Config     *CLIConfig

	servicesOnce sync.Once
	services     *application.Container
	servicesErr  error
}

// Services builds the application container on first use so commands that
// never touch the network (analyze, version) do not pay for it.
func (a *AppContext) Services() (*application.Container, error) {
	a.servicesOnce.Do(func() {
		var base *zap.Logger
		if a.Logger != nil {
			base = a.Logger.Desugar()
		}
		a.services, a.servicesErr = application.NewContainer(a.Config.applicationConfig(a.ResultsDir, a.Operator), base)
	})
	return a.services, a.servicesErr
}

type appContextKey struct{}

var globalAppContext *AppContext

func storeAppContext(cmd *cobra.Command, appCtx *AppContext) {
	globalAppContext = appCtx
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, appContextKey{}, appCtx))
}

func getAppContext(cmd *cobra.Command) *AppContext {
	if ctx := cmd.Context(); ctx != nil {
		if appCtx, ok := ctx.Value(appContextKey{}).(*AppContext); ok {
			return appCtx
		}
	}
	return globalAppContext
}

var rootCmd = &cobra.Command{
	Use:           "lineaudit",
	Short:         "Audit Cisco physical lines for telnet exposure through an SSH jump host",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v := viper.GetViper()
		if err := initConfig(v, cfgFile); err != nil {
			return err
		}

		cfg := loadCLIConfig(v)
		applyFlagOverrides(cmd.Flags(), cfg)

		baseLogger, err := newLogger(cfg.Logging)
		if err != nil {
			return err
		}
		logger := baseLogger.Sugar()

		resultsDir := cfg.ResultsDir
		if resultsDir == "" {
			if resultsDir, err = getResultsDir(); err != nil {
				return err
			}
		}
		if abs, err := filepath.Abs(resultsDir); err == nil {
			resultsDir = abs
		}
		if err := os.MkdirAll(resultsDir, consts.DefaultDirPerm); err != nil {
			return fmt.Errorf("failed to create results directory: %w", err)
		}

		op := operator
		if !cmd.Flags().Changed("operator") && cfg.Operator != "" {
			op = cfg.Operator
		}
		if op == "" {
			op = detectOperatorFromEnv()
		}

		logger.Debugw("configuration loaded",
			"config_file", v.ConfigFileUsed(),
			"operator", op,
			"results_dir", resultsDir,
		)

		storeAppContext(cmd, &AppContext{
			Logger:     logger,
			Operator:   op,
			ResultsDir: resultsDir,
			Config:     cfg,
		})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if appCtx := getAppContext(cmd); appCtx != nil && appCtx.Logger != nil {
			_ = appCtx.Logger.Sync()
		}
	},
}

// initConfig points viper at --config or $HOME/.lineaudit.yaml and enables
// LINEAUDIT_ environment overrides. A missing default config file is fine.
func initConfig(v *viper.Viper, file string) error {
	registerDefaults(v)
	v.SetEnvPrefix("LINEAUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath("$HOME")
		v.SetConfigName(".lineaudit")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", colorError("✗"), err)
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.lineaudit.yaml)")
	rootCmd.PersistentFlags().StringVarP(&operator, "operator", "o", "", "operator name recorded in reports (default $USER)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: console or json")
	rootCmd.PersistentFlags().String("results-dir", "", "directory for run reports")

	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
