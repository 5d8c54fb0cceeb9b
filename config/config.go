// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates configuration for the application.
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Capability CapabilityConfig `mapstructure:"capability"`
}

type APIConfig struct {
	Addr string `mapstructure:"addr"`
}

type AuthConfig struct {
	// Pepper keys the token hashes at rest. Required; rotating it
	// invalidates every issued token.
	Pepper string `mapstructure:"pepper"`
	// GlobalAdminSecret enables the global-admin principal when set.
	GlobalAdminSecret string `mapstructure:"global_admin_secret"`
}

type CacheConfig struct {
	// Backend is one of "local", "redis", or "none".
	Backend       string        `mapstructure:"backend"`
	TTL           time.Duration `mapstructure:"ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
}

type CapabilityConfig struct {
	CatalogPath string `mapstructure:"catalog_path"`
}

func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Addr: ":8080",
		},
		Cache: CacheConfig{
			Backend: "local",
			TTL:     5 * time.Minute,
		},
		Capability: CapabilityConfig{
			CatalogPath: "capabilities.yaml",
		},
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "ORGCORE" and the dot character in
// keys is replaced by an underscore. For example, "cache.redis_addr"
// becomes "ORGCORE_CACHE_REDIS_ADDR".
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("ORGCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings a running API service cannot do without.
func (c *Config) Validate() error {
	if c.Auth.Pepper == "" {
		return fmt.Errorf("auth.pepper is required")
	}
	switch c.Cache.Backend {
	case "local", "none":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required when cache.backend is redis")
		}
	default:
		return fmt.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}
	return nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
