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

// Package cmd implements objectfs's command-line surface: a single root
// command that health-checks the remote server, mounts it, and blocks
// until the kernel unmounts it.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/objectfs/objectfs/cfg"
)

var (
	cfgFile       string
	bindErr       error
	configFileErr error
	unmarshalErr  error
	Config        cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "objectfs [flags] [base-url] mount-point",
	Short: "Mount a remote object store as a local POSIX filesystem",
	Long: `objectfs is a FUSE adapter that mounts a remote HTTP object store as a
local filesystem, translating kernel filesystem calls into HTTP requests
against the remote server's whole-object API.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		if configFileErr != nil {
			return configFileErr
		}
		if unmarshalErr != nil {
			return unmarshalErr
		}

		remoteURL, mountPoint, err := populateArgs(args)
		if err != nil {
			return err
		}
		return mount(cmd.Context(), remoteURL, mountPoint, &Config)
	},
}

// populateArgs resolves the positional arguments into a remote base URL
// and a mount point, mirroring the teacher's one-or-two-argument
// convention (bucket, mount_point). With one argument it is the mount
// point and the base URL comes from --remote-url / OBJECTFS_REMOTE_URL;
// with two, the first is the base URL and --remote-url is ignored.
func populateArgs(args []string) (remoteURL, mountPoint string, err error) {
	switch len(args) {
	case 1:
		remoteURL = Config.RemoteURL
		mountPoint = args[0]
	case 2:
		remoteURL = args[0]
		mountPoint = args[1]
	}

	if remoteURL == "" {
		err = fmt.Errorf("no remote URL given: pass it as the first argument, --remote-url, or OBJECTFS_REMOTE_URL")
		return
	}

	mountPoint, err = filepath.Abs(mountPoint)
	if err != nil {
		err = fmt.Errorf("canonicalizing mount point: %w", err)
		return
	}
	return
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "Path to a YAML config file")
	bindErr = cfg.BindFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	viper.SetEnvPrefix("objectfs")
	// Flag and config keys are hyphenated and dotted ("remote-url",
	// "file-system.file-mode"); env vars cannot contain either, so both
	// translate to underscores: OBJECTFS_REMOTE_URL,
	// OBJECTFS_FILE_SYSTEM_FILE_MODE.
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		viper.SetConfigType("yaml")
		if err := viper.ReadInConfig(); err != nil {
			configFileErr = fmt.Errorf("error while reading config file: %w", err)
			return
		}
	}

	unmarshalErr = viper.Unmarshal(&Config, viper.DecodeHook(cfg.DecodeHook()))
}
