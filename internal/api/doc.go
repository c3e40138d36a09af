// Package api 暴露 HTTP 接口：对话、反馈、历史消息，以及与看板共用的持有人查询。
package api
