package vault

import (
	"errors"
	"fmt"
	"log"
)

// minDiskSpaceBytes is the floor below which writes are refused, so a
// full disk degrades into a clear error instead of a torn write.
const minDiskSpaceBytes = 10 * 1024 * 1024

var ErrInsufficientDisk = errors.New("vault: insufficient disk space")

// checkDiskSpaceForWrite refuses a write when the vault volume cannot
// comfortably hold it. An unreadable disk stat only warns; refusing all
// writes on a stat failure would be worse than the risk.
func (c *Controller) checkDiskSpaceForWrite(dataSize int) error {
	avail, err := diskAvailable(c.cfg.VaultDir)
	if err != nil {
		log.Printf("vault: failed to check disk space: %v", err)
		return nil
	}

	required := uint64(minDiskSpaceBytes)
	if uint64(dataSize*2) > required {
		required = uint64(dataSize * 2)
	}
	if avail < required {
		return fmt.Errorf("%w: only %d MB available", ErrInsufficientDisk, avail/(1024*1024))
	}
	return nil
}
