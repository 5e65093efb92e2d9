// Copyright (c) FlowForge Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 FlowForge 测试的共享工具和辅助函数。

# 概述

testutil 包为整个项目的单元测试提供统一的辅助能力，避免各包重复
实现相似的测试基础设施。所有测试应优先使用此包中的工具函数和
Mock 实现。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout，自动注册
    Cleanup 防止泄漏
  - 存储辅助: NewTestStore 基于内存 SQLite 建库并完成 AutoMigrate
  - 数据工具: MustJSON / MustRawJSON，简化测试数据构造
  - 异步断言: Eventually，轮询等待条件满足

# 子包

  - testutil/mocks: Mock 实现，包括 MockProvider（LLM Provider）、
    MockToolCaller（MCP 工具调用）、MockEngineNotifier（引擎回调），
    均支持 Builder 模式与错误注入
  - testutil/fixtures: 测试数据工厂，提供工作流图、节点实例、
    任务与 agent 行的预置构造函数

# 使用示例

	st := testutil.NewTestStore(t)
	provider := mocks.NewMockProvider().WithResponse("done")
	resp, err := provider.Completion(testutil.TestContext(t), req)
	require.NoError(t, err)
*/
package testutil
