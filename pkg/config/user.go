package config

import (
	"path/filepath"

	"github.com/ghodss/yaml"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/destacey/calsync/pkg/errors"
)

const (
	// UserConfigPath is the default path to the calsync user config.
	UserConfigPath = "~/.calsync.yaml"

	// DefaultDatabasePath is where the local event database lives unless the
	// user config overrides it.
	DefaultDatabasePath = "~/.calsync/calendar.db"

	// DefaultSchedule is the cron expression used by watch mode when the
	// user config doesn't set one.
	DefaultSchedule = "*/15 * * * *"

	// InitialUserConfigVersion is the first version of the calsync user
	// config. Config files that do not specify a version will default to
	// this version.
	InitialUserConfigVersion = "v1"

	// SupportedUserConfigVersion is the supported version of the calsync
	// user config of the current calsync binary.
	SupportedUserConfigVersion = "v1"
)

// User contains the local configuration of the CLI.
type User struct {
	Version string `json:"version,omitempty"`

	// DatabasePath is the path to the SQLite event database.
	DatabasePath string `json:"databasePath,omitempty"`

	// TokenCommand is a shell command that prints a Microsoft Graph access
	// token to stdout. Token acquisition and refresh live entirely outside
	// calsync.
	TokenCommand string `json:"tokenCommand"`

	// Schedule is the cron expression for watch mode.
	Schedule string `json:"schedule,omitempty"`
}

func (u User) getVersion() string {
	return u.Version
}

// homedirExpand will be overridden in mock tests
var homedirExpand = homedir.Expand

// ParseUser attempts to parse the User stored in the default path.
func ParseUser() (User, error) {
	path, err := GetUserConfigPath()
	if err != nil {
		return User{}, errors.WithContext(err, "expand config path")
	}

	config := User{Version: InitialUserConfigVersion}
	if err := parseConfig(path, &config, SupportedUserConfigVersion); err != nil {
		if _, ok := err.(errors.FileNotFound); ok {
			return User{}, errors.NewFriendlyError("The calsync config file "+
				"doesn't exist at %q. Please create it with at least a "+
				"tokenCommand entry before syncing.", path)
		}
		return User{}, errors.WithContext(err, "parse")
	}

	if config.TokenCommand == "" {
		return User{}, errors.NewFriendlyError("The config file %q does not "+
			"set tokenCommand.\ncalsync runs this command to obtain a "+
			"Microsoft Graph access token, so syncing is impossible "+
			"without it.", path)
	}

	if config.DatabasePath == "" {
		config.DatabasePath = DefaultDatabasePath
	}
	config.DatabasePath, err = homedirExpand(config.DatabasePath)
	if err != nil {
		return User{}, errors.WithContext(err, "expand database path")
	}
	// Evaluate relative paths relative to the config path.
	if !filepath.IsAbs(config.DatabasePath) {
		config.DatabasePath = filepath.Join(filepath.Dir(path), config.DatabasePath)
	}

	if config.Schedule == "" {
		config.Schedule = DefaultSchedule
	}
	return config, nil
}

// WriteUser writes the given user config to disk.
func WriteUser(cfg User) error {
	cfg.Version = SupportedUserConfigVersion
	path, err := GetUserConfigPath()
	if err != nil {
		return errors.WithContext(err, "expand config path")
	}

	yamlBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := afero.WriteFile(fs, path, yamlBytes, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

// GetUserConfigPath returns the path to the user's global calsync
// configuration. This path is expanded, so it can be directly passed to file
// operations.
func GetUserConfigPath() (string, error) {
	return homedirExpand(UserConfigPath)
}
