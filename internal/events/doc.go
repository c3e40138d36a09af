// Package events 在每轮对话持久化后发布 TurnEvent，供下游分析消费。
// 支持内存、Redis list 与 RabbitMQ 三种驱动。
package events
