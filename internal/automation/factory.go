package automation

import (
	"fmt"
	"log/slog"

	"ferry/internal/config"
	"ferry/internal/logging"
	"ferry/internal/services"
	"ferry/internal/transfer"
)

// Factory creates one driver per batch according to remote.mode.
type Factory struct {
	cfg    *config.Config
	logger *slog.Logger
}

// NewFactory returns a transfer.DriverFactory backed by cfg.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Factory{cfg: cfg, logger: logger}
}

// NewDriver implements transfer.DriverFactory.
func (f *Factory) NewDriver(batchID string) (transfer.Driver, error) {
	logger := f.logger.With(
		logging.String(logging.FieldComponent, "automation"),
		logging.String(logging.FieldBatchID, batchID),
	)
	switch f.cfg.Remote.Mode {
	case config.RemoteModeDryRun:
		return NewDryRunDriver(f.cfg.Remote.DryRunReject, logger), nil
	case config.RemoteModeHTTP:
		driver, err := NewFormDriver(FormOptionsFromConfig(f.cfg), logger)
		if err != nil {
			return nil, err
		}
		return driver, nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "automation", "new driver",
			fmt.Sprintf("unsupported remote mode %q", f.cfg.Remote.Mode), nil)
	}
}
