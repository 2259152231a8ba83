// Package logging 提供全局唯一的 zap logger 构造入口。
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New 构造应用 logger。
// debug 模式使用彩色 console 输出；生产模式输出 JSON，采集方好解析。
func New(debug bool) (*zap.Logger, error) {
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}
	return zap.NewProduction()
}
