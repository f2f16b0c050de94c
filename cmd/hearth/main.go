package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hearthd/hearth/agent"
	"github.com/hearthd/hearth/ha"
	"github.com/hearthd/hearth/internal/profile"
	"github.com/hearthd/hearth/internal/version"
	"github.com/hearthd/hearth/llm"
	"github.com/hearthd/hearth/metrics"
	"github.com/hearthd/hearth/server"
	"github.com/hearthd/hearth/store"
)

var rootCmd = &cobra.Command{
	Use:   "hearth",
	Short: "A home-automation assistant driven by guarded LLM reasoning architectures.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load .env from the working directory if present.
		_ = godotenv.Load() //nolint:errcheck // optional file

		level := slog.LevelInfo
		if viper.GetBool("verbose") {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask [text]",
	Short: "Run one request through the agent and print the answer.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProfile()
		if err != nil {
			return err
		}
		llmSvc, backend, err := buildCollaborators(p)
		if err != nil {
			return err
		}

		cfg, err := agent.PresetConfig(p.Arch)
		if err != nil {
			return err
		}
		engine := agent.New(cfg, llmSvc, backend, agent.WithLogger(slog.Default()))

		userText := ""
		for i, a := range args {
			if i > 0 {
				userText += " "
			}
			userText += a
		}

		result, err := engine.Run(cmd.Context(), userText)
		if err != nil {
			return err
		}
		fmt.Println(result.Answer)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProfile()
		if err != nil {
			return err
		}
		llmSvc, backend, err := buildCollaborators(p)
		if err != nil {
			return err
		}

		var st *store.Store
		if p.DSN != "" {
			st, err = store.New(p.DSN)
			if err != nil {
				return err
			}
			if err := st.Migrate(cmd.Context()); err != nil {
				return err
			}
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		s := server.NewServer(p, llmSvc, backend, st, metrics.New())

		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-c
			s.Shutdown(ctx)
			cancel()
		}()

		if err := s.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		<-ctx.Done()
		return nil
	},
}

func loadProfile() (*profile.Profile, error) {
	p := &profile.Profile{
		LLMProvider: viper.GetString("llm-provider"),
		LLMModel:    viper.GetString("llm-model"),
		LLMAPIKey:   viper.GetString("llm-api-key"),
		LLMBaseURL:  viper.GetString("llm-base-url"),
		LLMTimeout:  viper.GetInt("llm-timeout"),
		HAURL:       viper.GetString("ha-url"),
		HAToken:     viper.GetString("ha-token"),
		Arch:        viper.GetString("arch"),
		Addr:        viper.GetString("addr"),
		Port:        viper.GetInt("port"),
		DSN:         viper.GetString("dsn"),
		Version:     version.Version,
	}
	p.FromEnv()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func buildCollaborators(p *profile.Profile) (llm.Service, ha.Backend, error) {
	llmSvc, err := llm.NewService(&llm.Config{
		Provider: p.LLMProvider,
		Model:    p.LLMModel,
		APIKey:   p.LLMAPIKey,
		BaseURL:  p.LLMBaseURL,
		Timeout:  p.LLMTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return llmSvc, ha.NewClient(p.HAURL, p.HAToken), nil
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("llm-provider", "", "LLM provider (openai, deepseek, openrouter, ollama)")
	flags.String("llm-model", "", "LLM model name")
	flags.String("llm-api-key", "", "LLM API key")
	flags.String("llm-base-url", "", "LLM base URL override")
	flags.Int("llm-timeout", 0, "LLM request timeout in seconds")
	flags.String("ha-url", "", "Home Assistant instance URL")
	flags.String("ha-token", "", "Home Assistant long-lived access token")
	flags.String("arch", "", "reasoning architecture: standard, cot, react, reflexion, tot")
	flags.String("addr", "127.0.0.1", "server bind address")
	flags.Int("port", 8230, "server port")
	flags.String("dsn", "", "SQLite DSN for the run log (empty disables persistence)")
	flags.Bool("verbose", false, "enable debug logging")

	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(askCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
