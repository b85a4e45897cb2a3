// Package rconf loads TOML configuration with viper and hot-reloads it via
// fsnotify, reporting reload failures to rlog instead of silently keeping
// stale values.
package rconf

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/ringnet-io/ringnet/pkg/rlog"
)

func init() {
	viper.AutomaticEnv()
}

// Load reads config.toml from confDir into cfg (a pointer) and installs a
// watch that re-unmarshals on every change to the file.
func Load(confDir string, cfg interface{}) error {
	v := viper.New()
	v.AddConfigPath(confDir)
	v.SetConfigName("config")
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("rconf: read config file: %w", err)
	}

	cfgValue := reflect.ValueOf(cfg)
	if cfgValue.Kind() != reflect.Ptr || cfgValue.IsNil() {
		return errors.New("rconf: cfg must be a non-nil pointer")
	}

	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("rconf: unmarshal config file: %w", err)
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		rlog.Infow("configuration changed, reloading", "file", e.Name)
		if err := v.Unmarshal(cfg); err != nil {
			rlog.Errorw("failed to reload configuration", "error", err)
		}
	})

	rlog.Infow("configuration loaded", "path", confDir)
	return nil
}

// The following accessors are package-level viper convenience wrappers,
// useful for ad-hoc lookups (e.g. CLI flag overrides) outside of the
// struct a Load call populates.

func GetString(key string) string               { return viper.GetString(key) }
func GetInt(key string) int                      { return viper.GetInt(key) }
func GetBool(key string) bool                    { return viper.GetBool(key) }
func GetDuration(key string) time.Duration       { return viper.GetDuration(key) }
func GetStringSlice(key string) []string         { return viper.GetStringSlice(key) }
func GetStringMapString(key string) map[string]string {
	return viper.GetStringMapString(key)
}
