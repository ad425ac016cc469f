package main

import (
	"os"

	"github.com/joho/godotenv"

	logx "cmdexporter/pkg/logx"
)

// loadEnvFile loads a dotenv file into the process environment. A missing default
// .env is not an error; variables already set win over the file.
func loadEnvFile(log logx.Logger, path string) bool {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if explicit {
			log.Warn("env file not found", logx.String("path", path))
		} else {
			log.Debug("no .env file found", logx.String("path", path))
		}
		return false
	}
	if err := godotenv.Load(path); err != nil {
		log.Warn("failed to load env file", logx.String("path", path), logx.Err(err))
		return false
	}
	log.Debug("loaded env file", logx.String("path", path))
	return true
}
