// Package config populates configuration structs from environment variables.
//
// Values are read with github.com/caarlos0/env/v11 using `env` and
// `envDefault` struct tags. Before the first parse, Load reads .env files
// through github.com/joho/godotenv so local development works without
// exporting variables by hand; variables already present in the process
// environment always win.
//
//	type StoreConfig struct {
//	    Driver string `env:"STORE_DRIVER" envDefault:"memory"`
//	}
//
//	var cfg StoreConfig
//	if err := config.Load(&cfg); err != nil {
//	    return err
//	}
//
// Each infrastructure package in tierkit (pg, redis, mongo, httpserver)
// exposes its own Config type meant to be embedded or loaded this way.
package config
