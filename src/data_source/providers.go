package datasource

import (
	"stock-datahub/src/data_source/eastmoney"
	"stock-datahub/src/data_source/tushare"
	"stock-datahub/src/helpers"
	"stock-datahub/src/interfaces"
	"stock-datahub/src/logger"
	"stock-datahub/src/models"
	"stock-datahub/src/network"
)

// NewProviders builds the adapters enabled by the data source mode. Each one
// gets its own network manager so they share no connection or proxy state.
func NewProviders(cfg *models.MConfig, log *logger.Logger) (primary, secondary interfaces.IDataSource, err error) {
	mode := cfg.DataSource.Mode

	if mode != models.ModeSecondaryOnly {
		srcCfg := cfg.DataSource.Primary
		nm := network.NewAsyncNetworkManager(cfg, srcCfg.Name, log.Named(srcCfg.Name+"-net"))
		ts, err := tushare.NewTushareSource(srcCfg, nm, log.Named(srcCfg.Name))
		if err != nil {
			return nil, nil, helpers.NewConfigurationError("primary provider unavailable", err)
		}
		primary = ts
	}

	if mode != models.ModePrimaryOnly {
		srcCfg := cfg.DataSource.Secondary
		nm := network.NewAsyncNetworkManager(cfg, srcCfg.Name, log.Named(srcCfg.Name+"-net"))
		secondary = eastmoney.NewEastmoneySource(srcCfg, nm, log.Named(srcCfg.Name))
	}

	log.Info("Data source mode %q (primary: %v, secondary: %v)", mode, primary != nil, secondary != nil)
	return primary, secondary, nil
}
