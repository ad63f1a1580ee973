package blob

import (
	"context"
	"fmt"
	"os"
)

// Open selects a blob.Store implementation using environment variables.
//
//	SNAPFEED_BLOB_DRIVER: fs|s3|memory|badger (default fs)
//	SNAPFEED_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	SNAPFEED_BLOB_BADGER_PATH: database directory when driver=badger
//	(S3 specific variables documented in s3.go)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("SNAPFEED_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		root := os.Getenv("SNAPFEED_BLOB_FS_ROOT")
		return NewFilesystem(root)
	case DriverS3:
		return OpenFromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	case DriverBadger:
		return NewBadger(os.Getenv("SNAPFEED_BLOB_BADGER_PATH"))
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
