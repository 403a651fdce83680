// Package api 暴露合约状态查询、两种 mint 操作、mint 账本以及 Prometheus 指标的 REST 接口。
package api
