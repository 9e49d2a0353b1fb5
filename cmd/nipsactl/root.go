package main

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/annotator/nipsa/internal/app"
	"github.com/annotator/nipsa/internal/cache"
	"github.com/annotator/nipsa/internal/config"
	"github.com/annotator/nipsa/internal/logging"
	"github.com/annotator/nipsa/internal/metrics"
	"github.com/annotator/nipsa/internal/model"
	"github.com/annotator/nipsa/internal/service"
)

// userService is the subset of service.NipsaService used by the user commands.
type userService interface {
	List(ctx context.Context) ([]string, error)
	Flag(ctx context.Context, userID string) error
	Unflag(ctx context.Context, userID string) error
	IsFlagged(ctx context.Context, userID string) (bool, error)
}

type keyService interface {
	Create(ctx context.Context, name string, scopes []string) (*service.CreatedKey, error)
	List(ctx context.Context) ([]*model.APIKey, error)
	Revoke(ctx context.Context, id string) error
}

// Services are wired from the environment before a command runs unless
// already set.
var (
	nipsaService  userService
	apiKeyService keyService
	disconnect    func() error
)

var rootCmd = &cobra.Command{
	Use:   "nipsactl",
	Short: "Manage NIPSA flags and API keys",
	Long: `nipsactl flags and unflags users directly against the denylist store and
publishes the same change events as the Administrative API. It reads the
same environment variables as the api binary.`,
	SilenceUsage:       true,
	PersistentPreRunE:  connect,
	PersistentPostRunE: closeServices,
}

func connect(cmd *cobra.Command, _ []string) error {
	if nipsaService != nil || apiKeyService != nil {
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, "text")
	ctx := cmd.Context()

	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	rdb, err := app.OpenRedis(ctx, cfg, logger)
	if err != nil {
		store.Close()
		return err
	}
	channel, err := app.OpenChannel(cfg, rdb, logger, metrics.NewNoop(), false)
	if err != nil {
		store.Close()
		if rdb != nil {
			rdb.Close()
		}
		return err
	}

	var statusCache service.StatusCache
	if rdb != nil {
		statusCache = cache.NewFromClient(rdb, cfg.CachePrefix)
	}

	nipsaService = service.NewNipsaService(store, channel.Publisher, statusCache, logger, metrics.NewNoop())
	apiKeyService = service.NewAPIKeyService(store)
	disconnect = func() error {
		errs := []error{channel.Close(), store.Close()}
		if rdb != nil {
			errs = append(errs, rdb.Close())
		}
		return errors.Join(errs...)
	}
	return nil
}

func closeServices(*cobra.Command, []string) error {
	if disconnect == nil {
		return nil
	}
	err := disconnect()
	disconnect = nil
	nipsaService, apiKeyService = nil, nil
	return err
}
