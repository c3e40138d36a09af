// Package config 加载服务配置：JSON 文件、.env 文件与环境变量中的密钥。
package config
