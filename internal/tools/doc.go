// Package tools 定义模型可调用的链上数据工具：参数解码与校验、工具目录，
// 以及带缓存、超时和审计日志的执行器。
package tools
