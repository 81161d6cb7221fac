// Package logger 全局日志
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log *zap.Logger

func init() {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.MessageKey = "msg"

	var err error
	log, err = config.Build()
	if err != nil {
		panic(err)
	}
}

// Get 获取日志实例
func Get() *zap.Logger {
	return log
}

// Named 获取带名称的子日志实例
func Named(name string) *zap.Logger {
	return log.Named(name)
}
