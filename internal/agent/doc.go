// Package agent 是对话编排器：加载会话历史与知识库，选择模型，
// 驱动多轮工具调用，并持久化每一轮对话。
package agent
