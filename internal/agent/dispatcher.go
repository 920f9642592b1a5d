package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/heymatch/heymatch-api/internal/apperr"
	"github.com/heymatch/heymatch-api/internal/profile"
	"github.com/heymatch/heymatch-api/internal/search"
)

// Deadlines for the collaborators behind a dispatch.
const (
	ClassifyTimeout = 3 * time.Second
	SearchTimeout   = 5 * time.Second
	AnswerTimeout   = 3 * time.Second
)

// minConfidence below which any label collapses to a clarification reply.
const minConfidence = 0.4

// ViewedLister supplies already-swiped targets to exclude from search;
// backed by the swipe store.
type ViewedLister interface {
	Viewed(ctx context.Context, userID int64) ([]int64, error)
}

// Request is one conversational turn.
type Request struct {
	CallerID      int64   `json:"-"`
	Utterance     string  `json:"utterance"`
	ReferencedIDs []int64 `json:"referenced_ids,omitempty"`
}

// ReplyKind tells the client how to render the reply.
type ReplyKind string

const (
	ReplySearchResults ReplyKind = "search_results"
	ReplyAnswer        ReplyKind = "answer"
	ReplyCasual        ReplyKind = "casual"
	ReplyClarification ReplyKind = "clarification"
)

// Reply is the dispatch result.
type Reply struct {
	Intent     Intent       `json:"intent"`
	Confidence float64      `json:"confidence"`
	Kind       ReplyKind    `json:"kind"`
	Text       string       `json:"text"`
	Results    []search.Hit `json:"results,omitempty"`
}

// Dispatcher wires the classifier to the downstream paths. Each dispatch is
// one request/response; no state carries between turns.
type Dispatcher struct {
	classifier Classifier
	answerer   Answerer
	searcher   search.Searcher
	profiles   profile.Store
	viewed     ViewedLister
	searchLim  int
}

func NewDispatcher(c Classifier, a Answerer, s search.Searcher, p profile.Store, v ViewedLister) *Dispatcher {
	return &Dispatcher{classifier: c, answerer: a, searcher: s, profiles: p, viewed: v, searchLim: 10}
}

// Dispatch classifies and routes one utterance.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Reply, error) {
	if req.Utterance == "" {
		return Reply{}, apperr.Invalid("utterance is required")
	}

	cls := d.classify(ctx, req)
	if cls.Confidence < minConfidence {
		return Reply{
			Intent:     cls.Intent,
			Confidence: cls.Confidence,
			Kind:       ReplyClarification,
			Text:       "I'm not sure what you're after. Are you looking for new people, or asking about someone specific?",
		}, nil
	}

	switch cls.Intent {
	case IntentSearch:
		return d.dispatchSearch(ctx, req, cls)
	case IntentInquiry:
		return d.dispatchInquiry(ctx, req, cls)
	default:
		return d.casualReply(cls), nil
	}
}

// classify runs the classifier under its own deadline; any failure or
// timeout falls back to casual.
func (d *Dispatcher) classify(ctx context.Context, req Request) Classification {
	cctx, cancel := context.WithTimeout(ctx, ClassifyTimeout)
	defer cancel()
	cls, err := d.classifier.Classify(cctx, req.Utterance, req.ReferencedIDs)
	if err != nil {
		log.Warn().Err(err).Msg("classifier failed, defaulting to casual")
		return Classification{Intent: IntentCasual, Confidence: 1, Reasoning: "classifier unavailable"}
	}
	return cls
}

func (d *Dispatcher) dispatchSearch(ctx context.Context, req Request, cls Classification) (Reply, error) {
	exclude, err := d.viewed.Viewed(ctx, req.CallerID)
	if err != nil {
		return Reply{}, err
	}
	exclude = append(exclude, req.CallerID)

	var hits []search.Hit
	err = withRetry(ctx, func() error {
		sctx, cancel := context.WithTimeout(ctx, SearchTimeout)
		defer cancel()
		var serr error
		hits, serr = d.searcher.Search(sctx, req.Utterance, exclude, d.searchLim)
		return serr
	})
	if err != nil {
		return Reply{}, apperr.Wrap(apperr.KindUpstreamTimeout, "search backend unavailable", err)
	}

	text := fmt.Sprintf("Found %d people matching what you described.", len(hits))
	if len(hits) == 0 {
		text = "Nobody new matches that right now; try broadening your description."
	}
	return Reply{Intent: IntentSearch, Confidence: cls.Confidence, Kind: ReplySearchResults, Text: text, Results: hits}, nil
}

func (d *Dispatcher) dispatchInquiry(ctx context.Context, req Request, cls Classification) (Reply, error) {
	if len(req.ReferencedIDs) == 0 {
		return Reply{
			Intent:     cls.Intent,
			Confidence: cls.Confidence,
			Kind:       ReplyClarification,
			Text:       "Who do you want to know about? Open their profile and ask again.",
		}, nil
	}

	doc, err := d.profiles.Profile(ctx, req.ReferencedIDs[0])
	if err != nil {
		return Reply{}, err
	}
	grounding := []string{doc.Name}
	if doc.Summary != "" {
		grounding = []string{doc.Summary}
	}

	var answer string
	err = withRetry(ctx, func() error {
		actx, cancel := context.WithTimeout(ctx, AnswerTimeout)
		defer cancel()
		var aerr error
		answer, aerr = d.answerer.Answer(actx, req.Utterance, grounding)
		return aerr
	})
	if err != nil {
		return Reply{}, apperr.Wrap(apperr.KindUpstreamTimeout, "answer backend unavailable", err)
	}
	return Reply{Intent: IntentInquiry, Confidence: cls.Confidence, Kind: ReplyAnswer, Text: answer}, nil
}

func (d *Dispatcher) casualReply(cls Classification) Reply {
	return Reply{
		Intent:     IntentCasual,
		Confidence: cls.Confidence,
		Kind:       ReplyCasual,
		Text:       "Happy to chat! You can also ask me to find people for you, or ask about someone you've seen.",
	}
}

// withRetry runs fn, retrying once with jitter on failure. Context errors
// are not retried; the caller's deadline governs.
func withRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	select {
	case <-ctx.Done():
		return err
	case <-time.After(time.Duration(50+rand.Intn(100)) * time.Millisecond):
	}
	return fn()
}
