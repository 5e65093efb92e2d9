// Copyright (c) FlowForge Authors.
// Licensed under the MIT License.

/*
Package types 提供 FlowForge 平台的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何业务包。它定义统一错误模型、
状态机枚举与数据库 JSON 列类型，供 store、engine、gateway、
agentsvc 等所有上层包引用。

# 核心类型

  - Error / ErrorCode — 统一结构化错误，携带错误码、HTTP 状态与
    可重试标记，API 层通过 HTTPStatusFor 映射响应码
  - WorkflowStatus / NodeStatus / TaskStatus — 三级生命周期状态枚举，
    均提供 Terminal() 判定
  - NodeType / ConnectionType / ProcessorType / TaskType — 工作流
    定义层的分类枚举
  - JSONMap / StringList — 兼容 postgres / mysql / sqlite 的
    JSON 文本列类型，实现 driver.Valuer 与 sql.Scanner
*/
package types
