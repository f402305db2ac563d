package domain

// ListCard 是卡表页面（cardlist）上的一张卡。
//
// JSON 键名首字母大写，与既有的 output/<set>.json 文件保持一致。
type ListCard struct {
	Name      string `json:"Name"`
	Set       string `json:"Set"`
	Rarity    string `json:"Rarity"`
	Type      string `json:"Type"`
	Image     string `json:"Image"`
	Cost      string `json:"Cost"`
	Power     string `json:"Power"`
	Color     string `json:"Color"`
	Counter   string `json:"Counter"`
	Attribute string `json:"Attribute"`
	Feature   string `json:"Feature"`
	Text      string `json:"Text"`
}
