// Copyright 2025 the original author or authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cli holds the root command of osmhistory and the helpers shared
// by its subcommands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is the contents of the configuration file. Flags given on the
// command line take precedence.
type Config struct {
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"`
	Preload   PreloadConfig `yaml:"preload"`
}

// PreloadConfig configures the preload command.
type PreloadConfig struct {
	Format      string `yaml:"format"`
	Workers     int    `yaml:"workers"`
	RangeSize   string `yaml:"range_size"`
	Compression string `yaml:"compression"`
	WorkDir     string `yaml:"work_dir"`
	Retries     *int   `yaml:"retries"`
	Postgres    string `yaml:"postgres"`
}

// Conf is the configuration in effect once the root command ran.
var Conf Config

var configFile *os.File

var RootCmd = &cobra.Command{
	Use:               "osmhistory",
	Short:             "Import and inspect versioned OpenStreetMap history",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	flags := RootCmd.PersistentFlags()
	flags.Var(NewReaderValue(nil, &configFile, "file"), "config", "YAML configuration file")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-format", "text", "log format: text or json")
}

// Execute runs the command line. An interrupt cancels the context of the
// running command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := RootCmd.ExecuteContext(ctx)

	stop()

	if err != nil {
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	if configFile != nil {
		err := LoadConfig(configFile, &Conf)
		_ = configFile.Close()

		if err != nil {
			return err
		}
	}

	flags := cmd.Flags()
	Conf.LogLevel = StringFlag(flags, "log-level", Conf.LogLevel)
	Conf.LogFormat = StringFlag(flags, "log-format", Conf.LogFormat)

	logger, err := NewLogger(os.Stderr, Conf.LogLevel, Conf.LogFormat)
	if err != nil {
		return err
	}

	slog.SetDefault(logger)

	return nil
}

// LoadConfig decodes a YAML configuration from r into c. An empty file
// leaves c unchanged.
func LoadConfig(r io.Reader, c *Config) error {
	if err := yaml.NewDecoder(r).Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("unable to parse configuration: %w", err)
	}

	return nil
}

// NewLogger creates a logger writing to w: colored text by default, or
// JSON.
func NewLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}

	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
	case "text", "":
		return slog.New(tint.NewHandler(w, &tint.Options{Level: lvl, TimeFormat: time.TimeOnly})), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

// StringFlag returns the value of flag name when it was given, else
// configured when it is set, else the flag's default.
func StringFlag(flags *pflag.FlagSet, name, configured string) string {
	v, _ := flags.GetString(name)
	if flags.Changed(name) || configured == "" {
		return v
	}

	return configured
}

// IntFlag is StringFlag for int flags; a zero configured value counts as
// unset.
func IntFlag(flags *pflag.FlagSet, name string, configured int) int {
	v, _ := flags.GetInt(name)
	if flags.Changed(name) || configured == 0 {
		return v
	}

	return configured
}
