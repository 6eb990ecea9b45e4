package debate

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/zhouzirui/z-think/backend/internal/errs"
	"github.com/zhouzirui/z-think/backend/internal/model/artifact"
	"github.com/zhouzirui/z-think/backend/internal/service/loop"
)

// ExportConfig 是导出文档中的辩论配置。
type ExportConfig struct {
	Difficulty string `json:"difficulty"`
	Language   string `json:"language"`
	Ally       bool   `json:"ally"`
	MaxRounds  int    `json:"max_rounds"`
}

// ExportTurn is one transcript entry of an export.
type ExportTurn struct {
	Seat      int       `json:"seat"`
	Speaker   string    `json:"speaker"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Document 是辩论的扁平 JSON 导出格式。
type Document struct {
	Topic         string              `json:"topic"`
	Config        ExportConfig        `json:"config"`
	Turns         []ExportTurn        `json:"turns"`
	Scorecard     *artifact.Scorecard `json:"scorecard"`
	FinalArtifact string              `json:"final_artifact"`
	ExportedAt    time.Time           `json:"exported_at"`
}

// Document builds the export of the arena's current state.
func (a *Arena) Document(now time.Time) Document {
	snap := a.Engine.State()
	doc := Document{
		Topic: snap.Topic,
		Config: ExportConfig{
			Difficulty: a.Setup.Difficulty,
			Language:   a.Language,
			Ally:       a.Setup.Ally,
			MaxRounds:  snap.MaxRounds,
		},
		Turns:         exportTurns(snap.History),
		FinalArtifact: snap.Final,
		ExportedAt:    now.UTC(),
	}
	if card, ok := a.Scorecard(); ok {
		doc.Scorecard = &card
	}
	return doc
}

// Export 序列化辩论记录。
func (a *Arena) Export(now time.Time) ([]byte, error) {
	return json.MarshalIndent(a.Document(now), "", "  ")
}

// ParseExport reads a document written by Export.
func ParseExport(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", errs.ErrSchemaViolation, err)
	}
	if strings.TrimSpace(doc.Topic) == "" {
		return Document{}, fmt.Errorf("%w: export has no topic", errs.ErrSchemaViolation)
	}
	if doc.Scorecard != nil {
		if err := doc.Scorecard.Validate(); err != nil {
			return Document{}, fmt.Errorf("%w: %v", errs.ErrSchemaViolation, err)
		}
	}
	return doc, nil
}

func exportTurns(history []loop.Turn) []ExportTurn {
	out := make([]ExportTurn, 0, len(history))
	for _, turn := range history {
		out = append(out, ExportTurn{Seat: turn.Seat, Speaker: turn.Speaker, Content: turn.Content, Timestamp: turn.Timestamp})
	}
	return out
}
