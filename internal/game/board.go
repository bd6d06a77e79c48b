package game

import (
	"fmt"
	"math/rand/v2"
)

// Item 賓果項目
//
// Text 在遊戲建立後不可變；Picked 保留給之後的玩法，目前不會被修改。
type Item struct {
	Text   string `json:"text"`
	Picked bool   `json:"picked"`
}

// NewItems 由文字列表建立項目
func NewItems(texts []string) []Item {
	items := make([]Item, len(texts))
	for i, text := range texts {
		items[i] = Item{Text: text}
	}
	return items
}

// BoardStrategy 棋盤生成策略
//
//	BoardIndependent：先洗一次完整排列後丟棄，每格再獨立均勻抽樣（可能重複）
//	BoardPermutation：取洗牌後排列的前 size*size 個（不重複）
type BoardStrategy string

const (
	BoardIndependent BoardStrategy = "independent"
	BoardPermutation BoardStrategy = "permutation"
)

// ParseBoardStrategy 解析配置中的策略名稱
func ParseBoardStrategy(s string) (BoardStrategy, error) {
	switch BoardStrategy(s) {
	case BoardIndependent, BoardPermutation:
		return BoardStrategy(s), nil
	default:
		return "", fmt.Errorf("unknown board strategy %q", s)
	}
}

// Rand 棋盤生成與抽號使用的隨機來源
//
// *rand.Rand（math/rand/v2）滿足此介面；它不是併發安全的，
// Game 只在持有寫鎖時呼叫。
type Rand interface {
	IntN(n int) int
	Shuffle(n int, swap func(i, j int))
}

// globalRand 使用 math/rand/v2 的全域來源（併發安全）
type globalRand struct{}

func (globalRand) IntN(n int) int                     { return rand.IntN(n) }
func (globalRand) Shuffle(n int, swap func(i, j int)) { rand.Shuffle(n, swap) }

// Board 玩家棋盤，每格是項目索引，按列優先排列
type Board struct {
	Cells []int `json:"cells"`
}

// NewBoard 生成 size*size 的棋盤
//
// itemsLen 必須 >= size*size（由 Game 建構子保證）。
func NewBoard(size, itemsLen int, strategy BoardStrategy, rng Rand) Board {
	cellCount := size * size

	// Fisher–Yates 洗完整個項目池
	perm := make([]int, itemsLen)
	for i := range perm {
		perm[i] = i
	}
	rng.Shuffle(len(perm), func(i, j int) {
		perm[i], perm[j] = perm[j], perm[i]
	})

	cells := make([]int, cellCount)
	switch strategy {
	case BoardPermutation:
		copy(cells, perm[:cellCount])
	default:
		// 排列結果不參與填格；每格獨立抽樣
		for i := range cells {
			cells[i] = rng.IntN(itemsLen)
		}
	}

	return Board{Cells: cells}
}

// Cell 取得第 row 列第 col 欄的項目索引
func (b Board) Cell(size, row, col int) int {
	return b.Cells[row*size+col]
}
