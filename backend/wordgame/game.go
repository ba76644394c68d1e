package wordgame

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/adwski/shared-canvas/backend/model"
)

const (
	CommandWord = "word"

	choicesCount = 3
)

type Command struct {
	Name string
	Args string
}

// ParseCommand splits "/<name> <args>". Lines that do not start with a
// slash are plain chat.
func ParseCommand(text string) (Command, bool) {
	body, ok := strings.CutPrefix(text, "/")
	if !ok {
		return Command{}, false
	}
	name, args, _ := strings.Cut(body, " ")
	return Command{Name: name, Args: strings.TrimSpace(args)}, true
}

// Reply is a private system message addressed to the command sender.
type Reply struct {
	Message string
	Links   []model.Link
}

type Round struct {
	Drawer   string
	Nickname string
	Topic    string
	Word     string
}

// Controller holds the word game state of a single room. It is owned by
// the room actor and is not safe for concurrent use.
type Controller struct {
	catalog *Catalog
	rnd     *rand.Rand
	round   *Round
}

func NewController(catalog *Catalog, rnd *rand.Rand) *Controller {
	if catalog == nil {
		catalog = NewCatalog(nil)
	}
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Controller{
		catalog: catalog,
		rnd:     rnd,
	}
}

func (g *Controller) Command(cmd Command) Reply {
	switch cmd.Name {
	case CommandWord:
		return g.wordCommand(cmd.Args)
	}
	return Reply{
		Message: fmt.Sprintf("Unknown command /%s. Available commands:", cmd.Name),
		Links:   []model.Link{{Label: "/" + CommandWord, Chat: "/" + CommandWord}},
	}
}

func (g *Controller) wordCommand(topic string) Reply {
	words, ok := g.Pick(topic)
	if !ok {
		return g.topicsReply()
	}
	links := make([]model.Link, 0, len(words))
	for _, w := range words {
		links = append(links, model.Link{Label: w, Topic: topic, Word: w})
	}
	return Reply{
		Message: fmt.Sprintf("Choose a word to draw from %s:", topic),
		Links:   links,
	}
}

func (g *Controller) topicsReply() Reply {
	topics := g.catalog.Topics()
	if len(topics) == 0 {
		return Reply{Message: "No categories available"}
	}
	links := make([]model.Link, 0, len(topics))
	for _, t := range topics {
		links = append(links, model.Link{Label: t, Chat: "/" + CommandWord + " " + t})
	}
	return Reply{
		Message: "Available categories:",
		Links:   links,
	}
}

// Pick selects up to three distinct words from topic uniformly at random.
// Topics with fewer words yield all of them in random order.
func (g *Controller) Pick(topic string) ([]string, bool) {
	if topic == "" {
		return nil, false
	}
	words, ok := g.catalog.Words(topic)
	if !ok {
		return nil, false
	}
	n := min(choicesCount, len(words))
	picked := make([]string, 0, n)
	for _, i := range g.rnd.Perm(len(words))[:n] {
		picked = append(picked, words[i])
	}
	return picked, true
}

func (g *Controller) Start(r Round) {
	g.round = &r
}

func (g *Controller) Round() (Round, bool) {
	if g.round == nil {
		return Round{}, false
	}
	return *g.round, true
}

func (g *Controller) Clear() {
	g.round = nil
}

// Guess ends the active round if text is exactly the secret word.
func (g *Controller) Guess(text string) (Round, bool) {
	if g.round == nil || text != g.round.Word {
		return Round{}, false
	}
	r := *g.round
	g.round = nil
	return r, true
}
