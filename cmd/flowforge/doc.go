// Copyright (c) FlowForge Authors.
// Licensed under the MIT License.

/*
Package main 提供 FlowForge 服务端程序入口。

# 概述

cmd/flowforge 是人机协作工作流平台的可执行入口，提供 HTTP API 服务、
数据库迁移、健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、
结构化日志（zap）、Prometheus 指标采集以及 OpenTelemetry 追踪。

# 核心类型

  - Server     — 主服务器，装配引擎、网关、agent 服务、MCP 桥接与监控，
    管理 HTTP、Metrics 双端口及优雅关闭
  - Middleware — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve（启动服务）、migrate（数据库迁移）、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    OTelTracing、Metrics、CORS、RateLimiter（基于 IP）、APIKeyAuth
  - 实例锁：单机进程内锁或 Redis 分布式锁（redis.enabled）
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 优雅关闭：信号监听 → 关闭 HTTP → 停止 agent 服务 → 停止后台
    goroutine → 释放连接
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
