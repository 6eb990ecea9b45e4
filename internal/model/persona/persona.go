package persona

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Persona 是驱动一个席位的角色：名称、目标与语气指令。
type Persona struct {
	ID               string `json:"id" yaml:"id"`
	RoleName         string `json:"role" yaml:"role"`
	Goal             string `json:"goal" yaml:"goal"`
	VoiceInstruction string `json:"voiceInstruction,omitempty" yaml:"voice"`
}

// Intent is a canned prompt a user can fire into a dialogue.
type Intent struct {
	ID     string `json:"id" yaml:"id"`
	Label  string `json:"label" yaml:"label"`
	Prompt string `json:"prompt" yaml:"prompt"`
}

// Hat 六顶思考帽之一。
type Hat struct {
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title" yaml:"title"`
}

// Catalog 汇总所有固定枚举的角色与模板。
type Catalog struct {
	Welcome string    `yaml:"welcome"`
	Modes   []Persona `yaml:"modes"`
	Intents []Intent  `yaml:"intents"`
	Debate  []Persona `yaml:"debate"`
	Ally    Persona   `yaml:"ally"`
	Board   []Persona `yaml:"board"`
	Hats    []Hat     `yaml:"hats"`
}

//go:embed catalog.yaml
var catalogYAML []byte

// Seed 解析内嵌的 catalog.yaml。
func Seed() (*Catalog, error) {
	return Parse(catalogYAML)
}

// MustSeed is Seed for package initialisation and tests.
func MustSeed() *Catalog {
	c, err := Seed()
	if err != nil {
		panic(err)
	}
	return c
}

// Parse decodes and checks a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode persona catalog: %w", err)
	}
	if c.Welcome == "" {
		return nil, fmt.Errorf("persona catalog: welcome message is empty")
	}
	if len(c.Board) == 0 || len(c.Debate) == 0 || len(c.Modes) == 0 {
		return nil, fmt.Errorf("persona catalog: modes, debate and board sections are required")
	}
	return &c, nil
}

// Mode 返回对话模式对应的角色。
func (c *Catalog) Mode(id string) (Persona, bool) {
	return find(c.Modes, id)
}

// Difficulty returns the debate opponent for EASY, HARD or EXTREME.
func (c *Catalog) Difficulty(id string) (Persona, bool) {
	return find(c.Debate, id)
}

// Intent 按 ID 查找意图模板。
func (c *Catalog) Intent(id string) (Intent, bool) {
	for _, item := range c.Intents {
		if item.ID == id {
			return item, true
		}
	}
	return Intent{}, false
}

// BoardRoles lists the decision lab board in catalog order.
func (c *Catalog) BoardRoles() []string {
	roles := make([]string, 0, len(c.Board))
	for _, p := range c.Board {
		roles = append(roles, p.RoleName)
	}
	return roles
}

func find(items []Persona, id string) (Persona, bool) {
	for _, item := range items {
		if item.ID == id {
			return item, true
		}
	}
	return Persona{}, false
}
