// Copyright 2025 Google LLC
//
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

// Package cfg binds the recognized nlcached options to viper/pflag: each
// flag is registered on a pflag.FlagSet and bound to a viper key, so the
// parsed flag values land in the Config struct via viper.Unmarshal. The
// package itself reads no config file and binds no environment variables.
package cfg

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved set of recognized options, populated by
// viper.Unmarshal once the flags have been bound and parsed.
type Config struct {
	NlCache NlCacheConfig `yaml:"nl-cache" mapstructure:"nl-cache"`
}

type NlCacheConfig struct {
	PositiveEntry bool          `yaml:"positive-entry" mapstructure:"positive-entry"`
	Limit         uint64        `yaml:"limit" mapstructure:"limit"`
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	PassThrough   bool          `yaml:"pass-through" mapstructure:"pass-through"`
}

// Defaults for each recognized option.
const (
	DefaultPositiveEntry = false
	DefaultLimitBytes    = 131072
	DefaultTimeout       = 60 * time.Second
	DefaultPassThrough   = false
)

// BindFlags registers the four nl-cache flags on flagSet and binds each to
// its viper key, so Config can later be populated with viper.Unmarshal.
func BindFlags(flagSet *pflag.FlagSet) error {
	flagSet.Bool("nl-cache-positive-entry", DefaultPositiveEntry, "Enable positive-entry caching in addition to negative lookups.")
	if err := viper.BindPFlag("nl-cache.positive-entry", flagSet.Lookup("nl-cache-positive-entry")); err != nil {
		return err
	}

	flagSet.Uint64("nl-cache-limit", DefaultLimitBytes, "Soft byte cap across all directory caches before LRU pruning kicks in.")
	if err := viper.BindPFlag("nl-cache.limit", flagSet.Lookup("nl-cache-limit")); err != nil {
		return err
	}

	flagSet.Duration("nl-cache-timeout", DefaultTimeout, "TTL for a directory's cached entries.")
	if err := viper.BindPFlag("nl-cache.timeout", flagSet.Lookup("nl-cache-timeout")); err != nil {
		return err
	}

	flagSet.Bool("pass-through", DefaultPassThrough, "Forward every FOP without touching the cache.")
	if err := viper.BindPFlag("nl-cache.pass-through", flagSet.Lookup("pass-through")); err != nil {
		return err
	}

	return nil
}
