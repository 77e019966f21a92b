package telegram

import (
	"fmt"

	"go.uber.org/zap"
)

// OpenSource opens the configured message source driver. The live
// Telegram client is an external integration satisfying Client; this
// binary bundles the export driver.
func OpenSource(driver, path string, logger *zap.Logger) (Client, error) {
	switch driver {
	case "export":
		return NewExportClient(path, logger)
	case "telegram":
		return nil, fmt.Errorf("the live telegram driver is not bundled in this build; set source.driver = %q and point source.path at a Telegram Desktop export", "export")
	default:
		return nil, fmt.Errorf("unknown source driver %q", driver)
	}
}
