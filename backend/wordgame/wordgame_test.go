package wordgame

import (
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adwski/shared-canvas/backend/model"
)

func testCatalog() *Catalog {
	return NewCatalog(map[string][]string{
		"animals": {"cat", "dog", "horse", "owl", "fox"},
		"food":    {"pizza", "soup"},
		"empty":   {"", "  "},
	})
}

func TestLoadCatalog(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "words/animals.txt", []byte("# animals\ncat\n dog \n\ncat\nowl\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "words/food.txt", []byte("pizza\nsoup"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "words/.hidden.txt", []byte("secret"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "words/README.md", []byte("docs"), 0o644))

	c, err := LoadCatalog(fs, "words")
	require.NoError(t, err)

	assert.Equal(t, []string{"animals", "food"}, c.Topics())
	words, ok := c.Words("animals")
	require.True(t, ok)
	if diff := cmp.Diff([]string{"cat", "dog", "owl"}, words); diff != "" {
		t.Fatalf("animals mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadCatalog_MissingDir(t *testing.T) {
	_, err := LoadCatalog(afero.NewMemMapFs(), "nope")
	assert.ErrorIs(t, err, ErrNoCatalog)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in     string
		want   Command
		wantOK bool
	}{
		{"/word animals", Command{Name: "word", Args: "animals"}, true},
		{"/word", Command{Name: "word"}, true},
		{"/word   two words ", Command{Name: "word", Args: "two words"}, true},
		{"/", Command{}, true},
		{"hello /word", Command{}, false},
		{"", Command{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseCommand(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestController_Pick(t *testing.T) {
	g := NewController(testCatalog(), rand.New(rand.NewPCG(7, 7)))
	all, _ := testCatalog().Words("animals")

	for i := 0; i < 100; i++ {
		words, ok := g.Pick("animals")
		require.True(t, ok)
		require.Len(t, words, 3)
		seen := map[string]bool{}
		for _, w := range words {
			assert.Contains(t, all, w)
			assert.False(t, seen[w], "duplicate word %q", w)
			seen[w] = true
		}
	}

	words, ok := g.Pick("food")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"pizza", "soup"}, words)

	_, ok = g.Pick("empty")
	assert.False(t, ok)
	_, ok = g.Pick("")
	assert.False(t, ok)
}

func TestController_Command(t *testing.T) {
	g := NewController(testCatalog(), rand.New(rand.NewPCG(1, 1)))

	t.Run("no category lists topics", func(t *testing.T) {
		for _, args := range []string{"", "plants"} {
			reply := g.Command(Command{Name: CommandWord, Args: args})
			assert.Equal(t, []model.Link{
				{Label: "animals", Chat: "/word animals"},
				{Label: "food", Chat: "/word food"},
			}, reply.Links)
		}
	})

	t.Run("category offers three words", func(t *testing.T) {
		reply := g.Command(Command{Name: CommandWord, Args: "animals"})
		require.Len(t, reply.Links, 3)
		for _, l := range reply.Links {
			assert.Equal(t, "animals", l.Topic)
			assert.Equal(t, l.Label, l.Word)
		}
	})

	t.Run("unknown command", func(t *testing.T) {
		reply := g.Command(Command{Name: "dance"})
		assert.Contains(t, reply.Message, "/dance")
	})

	t.Run("empty catalog", func(t *testing.T) {
		reply := NewController(nil, nil).Command(Command{Name: CommandWord})
		assert.Empty(t, reply.Links)
		assert.NotEmpty(t, reply.Message)
	})
}

func TestController_Guess(t *testing.T) {
	g := NewController(testCatalog(), nil)

	_, ok := g.Guess("cat")
	assert.False(t, ok, "no round yet")

	g.Start(Round{Drawer: "a", Nickname: "Alice", Topic: "animals", Word: "cat"})

	_, ok = g.Guess("Cat")
	assert.False(t, ok, "match is case-sensitive")
	_, ok = g.Round()
	assert.True(t, ok)

	r, ok := g.Guess("cat")
	require.True(t, ok)
	assert.Equal(t, "a", r.Drawer)
	_, ok = g.Round()
	assert.False(t, ok)
}
