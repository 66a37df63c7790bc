// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/timeutil"

	"github.com/objectfs/objectfs/cfg"
	"github.com/objectfs/objectfs/internal/attr"
	"github.com/objectfs/objectfs/internal/fs"
	"github.com/objectfs/objectfs/internal/logger"
	"github.com/objectfs/objectfs/internal/mountopts"
	"github.com/objectfs/objectfs/internal/perms"
	"github.com/objectfs/objectfs/internal/remoteclient"
)

// mount health-checks the remote server, builds the Dispatcher, and mounts
// it at mountPoint, blocking until the kernel unmount completes.
func mount(ctx context.Context, remoteURL, mountPoint string, newConfig *cfg.Config) error {
	sev, err := logger.ParseSeverity(newConfig.Logging.Severity)
	if err != nil {
		return fmt.Errorf("invalid --log-severity: %w", err)
	}
	log := logger.NewLogger(logger.Config{
		Format:   newConfig.Logging.Format,
		Severity: sev,
		FilePath: newConfig.Logging.FilePath,
	})
	defer logger.Close()

	mountID := uuid.New().String()
	log = log.With("mount_id", mountID, "remote_url", remoteURL)
	ctx = logger.WithLogger(ctx, log)

	uid, gid, err := perms.MyUserAndGroup()
	if err != nil {
		return fmt.Errorf("MyUserAndGroup: %w", err)
	}
	if uid == 0 && newConfig.FileSystem.Uid < 0 {
		fmt.Fprintln(os.Stdout, `
WARNING: objectfs invoked as root. This will cause all files to be owned by
root. If this is not what you intended, invoke objectfs as the user that
will be interacting with the file system.`)
	}
	if newConfig.FileSystem.Uid >= 0 {
		uid = uint32(newConfig.FileSystem.Uid)
	}
	if newConfig.FileSystem.Gid >= 0 {
		gid = uint32(newConfig.FileSystem.Gid)
	}

	timeout := newConfig.HTTPClient.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	remote := remoteclient.New(remoteclient.Config{
		BaseURL:               remoteURL,
		Timeout:               timeout,
		RateLimitHz:           newConfig.HTTPClient.OpRateLimitHz,
		MaxConcurrentRequests: int64(newConfig.HTTPClient.MaxConcurrentRequests),
	})

	healthCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := remote.HealthCheck(healthCtx); err != nil {
		return fmt.Errorf("remote health check failed: %w", err)
	}

	log.Info("remote storage server is healthy, creating file system server")
	server, err := fs.NewServer(&fs.ServerConfig{
		Clock:     timeutil.RealClock(),
		Remote:    remote,
		Owner:     attr.Owner{Uid: uid, Gid: gid},
		FilePerms: os.FileMode(newConfig.FileSystem.FileMode),
		DirPerms:  os.FileMode(newConfig.FileSystem.DirMode),
	})
	if err != nil {
		return fmt.Errorf("fs.NewServer: %w", err)
	}

	fsName := newConfig.AppName
	if fsName == "" {
		fsName = "objectfs"
	}

	log.Info("mounting file system", "mount_point", mountPoint)
	mountCfg := getFuseMountConfig(fsName, newConfig)
	mfs, err := fuse.Mount(mountPoint, server, mountCfg)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	if err := mfs.Join(ctx); err != nil {
		return fmt.Errorf("MountedFileSystem.Join: %w", err)
	}
	return nil
}

// getFuseMountConfig builds the kernel-bridge mount configuration, folding
// in the repeated "-o" flag via internal/mountopts the way the teacher's
// getFuseMountConfig does via its own internal/mount package.
func getFuseMountConfig(fsName string, newConfig *cfg.Config) *fuse.MountConfig {
	parsedOptions := mountopts.ParseAll(newConfig.FileSystem.FuseOptions)

	return &fuse.MountConfig{
		FSName:     fsName,
		Subtype:    "objectfs",
		VolumeName: fsName,
		Options:    parsedOptions,
	}
}
