package game_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Juliapixel/chat-bingo/internal/game"
	apperrors "github.com/Juliapixel/chat-bingo/pkg/errors"
)

// texts 產生 n 個項目文字
func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("item-%d", i)
	}
	return out
}

func newTestGame(t *testing.T, size, items int, opts ...game.Option) *game.Game {
	t.Helper()
	opts = append([]game.Option{game.WithRand(seeded(1))}, opts...)
	return game.New(uuid.New(), size, game.NewItems(texts(items)), opts...)
}

func TestValidateCreate(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		itemsLen int
		want     error
	}{
		{"valid minimum", 5, 25, nil},
		{"valid maximum", 23, 529, nil},
		{"too big wins over even", 24, 0, apperrors.ErrTooBig},
		{"too big", 25, 1000, apperrors.ErrTooBig},
		{"too small", 3, 9, apperrors.ErrTooSmall},
		{"too small even", 4, 0, apperrors.ErrTooSmall},
		{"even", 6, 36, apperrors.ErrSizeNotOdd},
		{"even before items", 6, 0, apperrors.ErrSizeNotOdd},
		{"not enough items", 5, 24, apperrors.ErrNotEnoughItems},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := game.ValidateCreate(tt.size, tt.itemsLen)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNew_EveryOddSize(t *testing.T) {
	for size := game.MinSize; size <= game.MaxSize; size += 2 {
		t.Run(fmt.Sprintf("size %d", size), func(t *testing.T) {
			items := size * size
			require.NoError(t, game.ValidateCreate(size, items))

			g := newTestGame(t, size, items)
			assert.Equal(t, size, g.Size())
			assert.Len(t, g.AddPlayer("alice").Cells, items)
		})
	}
}

func TestNew_PanicsOnTooFewItems(t *testing.T) {
	assert.Panics(t, func() {
		game.New(uuid.New(), 5, game.NewItems(texts(24)))
	})
}

func TestGame_Accessors(t *testing.T) {
	id := uuid.New()
	src := game.NewItems(texts(25))
	g := game.New(id, 5, src)

	assert.Equal(t, id, g.ID())
	assert.Equal(t, 5, g.Size())
	assert.Equal(t, src, g.Items())

	// 修改副本不影響遊戲
	items := g.Items()
	items[0].Text = "changed"
	assert.Equal(t, "item-0", g.Items()[0].Text)

	src[1].Text = "changed"
	assert.Equal(t, "item-1", g.Items()[1].Text)
}

func TestGame_AddPlayer(t *testing.T) {
	g := newTestGame(t, 5, 30)

	board := g.AddPlayer("alice")
	require.Len(t, board.Cells, 25)
	assert.Equal(t, 1, g.PlayerCount())

	got, ok := g.Board("alice")
	require.True(t, ok)
	assert.Equal(t, board, got)

	// 重新加入會生成新棋盤並覆蓋
	g.AddPlayer("alice")
	assert.Equal(t, 1, g.PlayerCount())

	_, ok = g.Board("bob")
	assert.False(t, ok)
}

func TestGame_ConcurrentJoins(t *testing.T) {
	g := game.New(uuid.New(), 5, game.NewItems(texts(40)))

	const players = 100
	var wg sync.WaitGroup
	for i := range players {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			board := g.AddPlayer(fmt.Sprintf("player-%d", i))
			assert.Len(t, board.Cells, 25)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, players, g.PlayerCount())
}

func TestGame_Draw(t *testing.T) {
	g := newTestGame(t, 5, 25)
	sub := g.Subscribe()

	delivered, err := g.Draw(3)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, []game.ServerEvent{game.NewBall{Idx: 3}}, drain(sub))
	assert.Equal(t, []int{3}, g.Drawn())

	for _, idx := range []int{-1, 25} {
		_, err := g.Draw(idx)
		assert.ErrorIs(t, err, apperrors.ErrBallOutOfRange)
	}
}

func TestGame_DrawRandomExhausts(t *testing.T) {
	g := newTestGame(t, 5, 25)

	seen := make(map[int]bool)
	for range 25 {
		idx, _, err := g.DrawRandom()
		require.NoError(t, err)
		assert.False(t, seen[idx], "ball %d drawn twice", idx)
		seen[idx] = true
	}

	_, _, err := g.DrawRandom()
	assert.ErrorIs(t, err, apperrors.ErrNoBallsLeft)
	assert.Len(t, g.Drawn(), 25)
}

func TestGame_EndPublishesOnce(t *testing.T) {
	g := newTestGame(t, 5, 25)
	sub := g.Subscribe()

	delivered, first := g.End()
	assert.True(t, first)
	assert.Equal(t, 1, delivered)

	_, first = g.End()
	assert.False(t, first)
	assert.True(t, g.Ended())

	assert.Equal(t, []game.ServerEvent{game.GameOver{}}, drain(sub))
}

func TestGame_SubscribersSeeSameSequence(t *testing.T) {
	g := newTestGame(t, 5, 25)
	a := g.Subscribe()
	b := g.Subscribe()
	assert.Equal(t, 2, g.SubscriberCount())

	g.Draw(1)
	g.Draw(2)
	g.End()

	want := []game.ServerEvent{game.NewBall{Idx: 1}, game.NewBall{Idx: 2}, game.GameOver{}}
	assert.Equal(t, want, drain(a))
	assert.Equal(t, want, drain(b))
}

func TestGame_Close(t *testing.T) {
	g := newTestGame(t, 5, 25)
	sub := g.Subscribe()

	g.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.ErrorIs(t, sub.Err(), game.ErrClosed)
}
