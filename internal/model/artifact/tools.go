package artifact

import (
	"fmt"
	"strings"
)

// RoleGoal 是思考团调度器生成的一个角色。
type RoleGoal struct {
	Role string `json:"role" jsonschema:"minLength=1"`
	Goal string `json:"goal" jsonschema:"minLength=1"`
}

// ThinkTankPersonas holds the two contrasting personas for a think tank run.
type ThinkTankPersonas struct {
	PersonaA RoleGoal `json:"persona_a"`
	PersonaB RoleGoal `json:"persona_b"`
}

// Validate 要求两个角色名称不同。
func (p ThinkTankPersonas) Validate() error {
	if strings.EqualFold(strings.TrimSpace(p.PersonaA.Role), strings.TrimSpace(p.PersonaB.Role)) {
		return fmt.Errorf("personas: both seats are %q", p.PersonaA.Role)
	}
	return nil
}

// RootCause 是五问法的最终分析。
type RootCause struct {
	RootCause string `json:"root_cause" jsonschema:"minLength=1"`
	Solution  string `json:"solution" jsonschema:"minLength=1"`
	Advice    string `json:"advice" jsonschema:"minLength=1"`
}

// DevilsDefinition is a satirical dictionary entry.
type DevilsDefinition struct {
	Word       string `json:"word" jsonschema:"minLength=1"`
	Definition string `json:"definition" jsonschema:"minLength=1"`
	Usage      string `json:"usage" jsonschema:"minLength=1"`
}
