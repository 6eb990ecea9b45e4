package artifact

// HatSection 一顶帽子的标题与内容。
type HatSection struct {
	Title   string `json:"title" jsonschema:"minLength=1"`
	Content string `json:"content" jsonschema:"minLength=1"`
}

// SixHats is the six thinking hats report.
type SixHats struct {
	White  HatSection `json:"white_hat"`
	Red    HatSection `json:"red_hat"`
	Black  HatSection `json:"black_hat"`
	Yellow HatSection `json:"yellow_hat"`
	Green  HatSection `json:"green_hat"`
	Blue   HatSection `json:"blue_hat"`
}

// Sections 按固定顺序（白、红、黑、黄、绿、蓝）返回各帽内容。
func (h SixHats) Sections() []NamedHat {
	return []NamedHat{
		{ID: "white", HatSection: h.White},
		{ID: "red", HatSection: h.Red},
		{ID: "black", HatSection: h.Black},
		{ID: "yellow", HatSection: h.Yellow},
		{ID: "green", HatSection: h.Green},
		{ID: "blue", HatSection: h.Blue},
	}
}

// NamedHat pairs a hat colour with its section.
type NamedHat struct {
	ID string `json:"id"`
	HatSection
}
