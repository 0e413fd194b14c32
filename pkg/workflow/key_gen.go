// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package workflow

import (
	"hash/adler32"
	"os"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	globalIdGenerator     *snowflake.Node
	globalIdGeneratorOnce sync.Once
)

func (engine *Engine) generateKey() int64 {
	return engine.snowflake.Generate().Int64()
}

// getGlobalSnowflakeIdGenerator the global ID generator
// constraints: see also CreateSnowflakeIdGenerator
func getGlobalSnowflakeIdGenerator() *snowflake.Node {
	globalIdGeneratorOnce.Do(func() {
		globalIdGenerator = CreateSnowflakeIdGenerator()
	})
	return globalIdGenerator
}

// CreateSnowflakeIdGenerator a new ID generator seeded from the process environment,
// constraints: two processes with an identical environment share the node id
func CreateSnowflakeIdGenerator() *snowflake.Node {
	hash32 := adler32.New()
	for _, e := range os.Environ() {
		_, _ = hash32.Write([]byte(e))
	}
	nodeMax := int64(-1 ^ (-1 << snowflake.NodeBits))
	snowflakeNode, err := snowflake.NewNode(int64(hash32.Sum32()) & nodeMax)
	if err != nil {
		panic("can't initialize snowflake ID generator. Message: " + err.Error())
	}
	return snowflakeNode
}
