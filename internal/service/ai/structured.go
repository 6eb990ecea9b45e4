package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/zhouzirui/z-think/backend/internal/errs"
	"github.com/zhouzirui/z-think/backend/internal/model/artifact"
)

var (
	compiledMu sync.Mutex
	compiled   = map[string]*gojsonschema.Schema{}
)

// CompleteJSON 以严格结构化模式调用模型，并将结果解码到 out（必须为指针）。
// 抽取、Schema 校验、解码或语义校验任一步失败都返回 ErrSchemaViolation。
func (g *Gateway) CompleteJSON(ctx context.Context, req Request, out any) error {
	raw, schema, err := schemaFor(out)
	if err != nil {
		return err
	}

	req.Structured = true
	req.SystemInstruction = strings.TrimSpace(req.SystemInstruction) +
		"\n\nRespond with a single JSON object that validates against this JSON Schema:\n" + string(raw)

	text, err := g.Complete(ctx, req)
	if err != nil {
		return err
	}

	if err := Decode(schema, text, out); err != nil {
		g.logger.Warn().Err(err).Str("type", fmt.Sprintf("%T", out)).Msg("structured output rejected")
		return err
	}
	return nil
}

// Decode validates text against schema and unmarshals it into out.
func Decode(schema *gojsonschema.Schema, text string, out any) error {
	obj, err := extractJSONObject(text)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrSchemaViolation, err)
	}

	result, err := schema.Validate(gojsonschema.NewStringLoader(obj))
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrSchemaViolation, err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("%w: %s", errs.ErrSchemaViolation, strings.Join(problems, "; "))
	}

	if err := json.Unmarshal([]byte(obj), out); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrSchemaViolation, err)
	}

	if v, ok := out.(artifact.Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrSchemaViolation, err)
		}
	}
	return nil
}

// SchemaFor returns the compiled schema for out's type.
func SchemaFor(out any) (*gojsonschema.Schema, error) {
	_, schema, err := schemaFor(out)
	return schema, err
}

func schemaFor(out any) ([]byte, *gojsonschema.Schema, error) {
	raw, err := artifact.SchemaFor(out)
	if err != nil {
		return nil, nil, err
	}

	key := fmt.Sprintf("%T", out)
	compiledMu.Lock()
	defer compiledMu.Unlock()
	if schema, ok := compiled[key]; ok {
		return raw, schema, nil
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("compile schema for %s: %w", key, err)
	}
	compiled[key] = schema
	return raw, schema, nil
}

// extractJSONObject 截取第一个 "{" 到最后一个 "}" 之间的内容，兼容模型包裹的代码块或前后说明文字。
func extractJSONObject(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("missing json object")
	}
	return trimmed[start : end+1], nil
}
