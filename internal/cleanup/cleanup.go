package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/italolelis/nft_cover_downloader/internal/content"
	"github.com/italolelis/nft_cover_downloader/internal/logctx"
)

// DeleteStaleTempFiles removes staging files left behind by interrupted writes in dir.
// Only files carrying the store's temp prefix and last modified more than olderThan ago
// are removed, so a concurrent writer's live temp file is left alone.
func DeleteStaleTempFiles(ctx context.Context, dir string, olderThan time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, err
	}

	removed := 0

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		if !entry.Type().IsRegular() || !strings.HasPrefix(entry.Name(), content.TempPrefix) {
			continue
		}

		filePath := filepath.Join(dir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue // already deleted
			}

			logger.Error("Failed to stat temp file", "file", filePath, "err", err)

			return removed, err
		}

		if now.Sub(info.ModTime()) <= olderThan {
			continue
		}

		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			logger.Error("Failed to delete stale temp file", "file", filePath, "err", err)

			return removed, err
		}

		removed++

		logger.Debug("Deleted stale temp file", "file", filePath)
	}

	return removed, nil
}
