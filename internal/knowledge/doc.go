// Package knowledge 为系统提示词提供知识库内容。
package knowledge
