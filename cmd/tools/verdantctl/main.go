// Command verdantctl exercises the speech providers and manages the
// analysis history from the command line.
package main

import (
	"context"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/verdantsentinel/backend/internal/config"
	"github.com/verdantsentinel/backend/internal/logger"
)

var (
	cfg     *config.Config
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "verdantctl",
	Short:         "Verdant Sentinel maintenance tool",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		envErr := godotenv.Load()

		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		logger.Setup(cfg.Log)
		if envErr != nil {
			log.Debug().Err(envErr).Msg("无法加载 .env，改用系统环境变量")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 45*time.Second, "请求超时时间")
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("verdantctl failed")
		os.Exit(1)
	}
}
