// Package events 将合约状态快照扇出到外部消息系统（内存、Redis、RabbitMQ）。
package events
