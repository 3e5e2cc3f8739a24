package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/chatwidget/pkg/auth"
	"github.com/go-go-golems/chatwidget/pkg/device"
	"github.com/go-go-golems/chatwidget/pkg/events"
	"github.com/go-go-golems/chatwidget/pkg/session"
	"github.com/go-go-golems/chatwidget/pkg/stream"
	"github.com/go-go-golems/chatwidget/pkg/widget"
)

type fileConfig struct {
	AppToken    string            `yaml:"app_token"`
	UserID      string            `yaml:"user_id"`
	JWT         string            `yaml:"jwt"`
	ServiceURL  string            `yaml:"service_url"`
	StoragePath string            `yaml:"storage_path"`
	WSEndpoint  string            `yaml:"ws_endpoint"`
	Redis       redisConfig       `yaml:"redis"`
	Attributes  map[string]any    `yaml:"attributes"`
	CustomText  map[string]string `yaml:"custom_text"`
}

type redisConfig struct {
	Enabled              bool `yaml:"enabled"`
	stream.RedisSettings `yaml:",inline"`
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	cfg := &fileConfig{}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if cfg.AppToken == "" {
		return nil, errors.New("config: app_token is required")
	}
	return cfg, nil
}

func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chatwidget-state.json"
	}
	return filepath.Join(home, ".chatwidget", "state.json")
}

func buildBackend(cfg *fileConfig) (stream.Backend, error) {
	if cfg.Redis.Enabled {
		return stream.NewRedisBackend(cfg.Redis.RedisSettings)
	}
	if cfg.WSEndpoint != "" {
		return stream.NewWebSocketBackend(cfg.WSEndpoint)
	}
	return stream.NewMemoryBackend(), nil
}

func newChatCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Connect to the conversation and chat from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			storagePath := cfg.StoragePath
			if storagePath == "" {
				storagePath = defaultStoragePath()
			}
			storage, err := device.NewFileStorage(storagePath)
			if err != nil {
				return err
			}
			backend, err := buildBackend(cfg)
			if err != nil {
				return err
			}

			w, err := widget.New(widget.Config{
				AppToken:     cfg.AppToken,
				UserID:       cfg.UserID,
				JWT:          cfg.JWT,
				Attributes:   cfg.Attributes,
				CustomText:   cfg.CustomText,
				ServiceURL:   cfg.ServiceURL,
				Storage:      storage,
				Backend:      backend,
				BackendOwned: true,
				Env:          auth.Environment{},
			})
			if err != nil {
				return err
			}
			defer w.Destroy()

			w.On(events.TopicMessage, func(p events.Payload) {
				if p.Message == nil {
					return
				}
				prefix := "you"
				if p.Message.Role == session.RoleAgent {
					prefix = "agent"
				}
				fmt.Printf("[%s] %s\n", prefix, p.Message.Text)
			})
			w.On(events.TopicReady, func(p events.Payload) {
				if p.User != nil {
					log.Info().Str("user_id", p.User.ID).Msg("session ready")
				}
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if _, err := w.Init(ctx); err != nil {
				return errors.Wrap(err, "login")
			}

			fmt.Println("type a message and press enter (ctrl-d to quit)")
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				text := strings.TrimSpace(scanner.Text())
				if text == "" {
					continue
				}
				sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
				_, err := w.SendMessage(sendCtx, text)
				cancel()
				if err != nil {
					log.Warn().Err(err).Msg("send failed")
				}
				if ctx.Err() != nil {
					break
				}
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "chatwidget.yaml", "path to YAML config")
	return cmd
}

func newDeviceIDCommand() *cobra.Command {
	var storagePath string
	cmd := &cobra.Command{
		Use:   "device-id",
		Short: "Print the persisted device identity, creating one if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if storagePath == "" {
				storagePath = defaultStoragePath()
			}
			storage, err := device.NewFileStorage(storagePath)
			if err != nil {
				return err
			}
			provider, err := device.NewProvider(storage)
			if err != nil {
				return err
			}
			id, err := provider.GetOrCreateDeviceID()
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	cmd.Flags().StringVar(&storagePath, "storage", "", "path to the state file")
	return cmd
}

func main() {
	var logLevel string
	root := &cobra.Command{
		Use:   "chatwidget",
		Short: "Chat widget SDK diagnostics and terminal client",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := zerolog.ParseLevel(logLevel)
			if err != nil {
				return errors.Wrapf(err, "invalid log level %q", logLevel)
			}
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "zerolog level (trace, debug, info, warn, error)")
	root.AddCommand(newChatCommand())
	root.AddCommand(newDeviceIDCommand())

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
