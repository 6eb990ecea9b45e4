// Package artifact 定义上游一次性生成的结构化成品及其 JSON Schema。
//
// 每个类型同时承担两层校验：反射生成的 JSON Schema 约束形状，Validate 约束跨字段语义
// （例如董事会成员各出现一次）。
package artifact

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
)

// Validator is implemented by artifacts with semantic rules beyond their schema.
type Validator interface {
	Validate() error
}

const draft07 = "http://json-schema.org/draft-07/schema#"

var (
	schemaMu    sync.Mutex
	schemaCache = map[string][]byte{}
)

// SchemaFor 反射 v 的类型并返回 draft-07 JSON Schema 文本，结果按类型缓存。
func SchemaFor(v any) ([]byte, error) {
	key := fmt.Sprintf("%T", v)

	schemaMu.Lock()
	defer schemaMu.Unlock()
	if cached, ok := schemaCache[key]; ok {
		return cached, nil
	}

	r := &jsonschema.Reflector{
		Anonymous:                 true,
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
	}
	schema := r.Reflect(v)
	schema.Version = draft07

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", key, err)
	}
	schemaCache[key] = data
	return data, nil
}
