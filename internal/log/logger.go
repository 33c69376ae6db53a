package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init 初始化全局 zerolog：dev 环境输出彩色控制台格式，其余环境输出 JSON。
func Init(env, level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
		if env == "dev" {
			lvl = zerolog.DebugLevel
		}
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = New(env, os.Stdout)
}

func New(env string, w io.Writer) zerolog.Logger {
	if env == "dev" {
		cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
		return zerolog.New(cw).With().Timestamp().Logger()
	}
	return zerolog.New(w).With().Timestamp().Logger()
}
